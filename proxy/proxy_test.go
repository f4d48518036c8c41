package proxy

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/lumos/pkg/utils"
	"github.com/papercomputeco/lumos/proxy/header"
)

var _ = Describe("Gateway", func() {
	var (
		p        *Proxy
		pub      *recordingPublisher
		upstream *httptest.Server
	)

	BeforeEach(func() {
		pub = &recordingPublisher{}
	})

	AfterEach(func() {
		if p != nil {
			p.Close()
			p = nil
		}
		if upstream != nil {
			upstream.Close()
			upstream = nil
		}
	})

	post := func(path, body string) *http.Response {
		GinkgoHelper()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := p.server.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	get := func(path string) *http.Response {
		GinkgoHelper()
		resp, err := p.server.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	errorBody := func(resp *http.Response) string {
		GinkgoHelper()
		defer resp.Body.Close()
		var body map[string]string
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body["error"]
	}

	Context("when the upstream streams a complete answer", func() {
		var (
			gotAuth   string
			gotAccept string
			gotBody   map[string]any
		)

		BeforeEach(func() {
			body := sseDelta("Bei") + sseDelta("jing") + sseDone
			// Split inside a JSON payload and inside the second "\n\n".
			cut1 := 20
			cut2 := len(sseDelta("Bei")) + len(sseDelta("jing")) - 1
			pieces := []string{body[:cut1], body[cut1:cut2], body[cut2:]}

			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				gotAccept = r.Header.Get("Accept")
				gotBody = nil
				_ = json.NewDecoder(r.Body).Decode(&gotBody)
				w.Header().Set("X-Ratelimit-Remaining-Requests", "42")
				sseUpstream(pieces...)(w, r)
			}))
			p = newTestProxy(upstream.URL, pub)
		})

		It("reframes the SSE stream into NDJSON chat records", func() {
			resp := post("/api/chat", chatBody("deepseek-chat", nil))
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/x-ndjson"))

			records := readRecords(resp.Body)
			Expect(records).To(HaveLen(3))
			Expect(records[0]).To(HaveKeyWithValue("model", "deepseek-chat"))
			Expect(records[0]["message"]).To(HaveKeyWithValue("content", "Bei"))
			Expect(records[0]).To(HaveKeyWithValue("done", false))
			Expect(records[1]["message"]).To(HaveKeyWithValue("content", "jing"))
			Expect(records[1]).To(HaveKeyWithValue("done", false))
			Expect(records[2]).To(HaveKeyWithValue("done", true))
			Expect(records[2]).To(HaveKeyWithValue("eval_count", 259.0))
			Expect(records[2]["message"]).To(HaveKeyWithValue("content", ""))
		})

		It("sends an authenticated streaming chat completion upstream", func() {
			resp := post("/api/chat", chatBody("deepseek-chat", nil))
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			Expect(gotAuth).To(Equal("Bearer sk-test"))
			Expect(gotAccept).To(Equal("text/event-stream"))
			Expect(gotBody).To(HaveKeyWithValue("model", "deepseek-chat"))
			Expect(gotBody).To(HaveKeyWithValue("stream", true))
			Expect(gotBody["messages"]).To(Equal([]any{
				map[string]any{"role": "user", "content": "capital of China?"},
			}))
		})

		It("sends the configured upstream model name", func() {
			resp := post("/api/chat", chatBody("glm:4", nil))
			records := readRecords(resp.Body)
			resp.Body.Close()

			Expect(gotBody).To(HaveKeyWithValue("model", "glm-4-plus"))
			Expect(gotAuth).To(Equal("Bearer zhipu-test"))
			Expect(records[0]).To(HaveKeyWithValue("model", "glm:4"))
		})

		It("uses the default model when none is given", func() {
			resp := post("/api/chat", chatBody("", nil))
			records := readRecords(resp.Body)
			resp.Body.Close()

			Expect(records).To(HaveLen(3))
			Expect(records[0]).To(HaveKeyWithValue("model", "deepseek-chat"))
		})

		It("echoes a request id and forwards informational upstream headers", func() {
			resp := post("/api/chat", chatBody("deepseek-chat", nil))
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			Expect(resp.Header.Get(header.RequestIDHeader)).NotTo(BeEmpty())
			Expect(resp.Header.Get("X-Ratelimit-Remaining-Requests")).To(Equal("42"))
		})

		It("maps sampling options onto the upstream request", func() {
			body := `{"model":"deepseek-chat","messages":[{"role":"user","content":"hi"}],` +
				`"options":{"temperature":0.5,"num_predict":64,"stop":["\n\n"]}}`
			resp := post("/api/chat", body)
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			Expect(gotBody).To(HaveKeyWithValue("temperature", 0.5))
			Expect(gotBody).To(HaveKeyWithValue("max_tokens", 64.0))
			Expect(gotBody).To(HaveKeyWithValue("stop", []any{"\n\n"}))
		})

		It("reframes generate requests into response records", func() {
			resp := post("/api/generate", `{"model":"deepseek-chat","prompt":"capital of China?","system":"be brief"}`)
			defer resp.Body.Close()

			records := readRecords(resp.Body)
			Expect(records).To(HaveLen(3))
			Expect(records[0]).To(HaveKeyWithValue("response", "Bei"))
			Expect(records[0]).NotTo(HaveKey("message"))
			Expect(records[2]).To(HaveKeyWithValue("response", ""))
			Expect(records[2]).To(HaveKeyWithValue("done", true))

			Expect(gotBody["messages"]).To(Equal([]any{
				map[string]any{"role": "system", "content": "be brief"},
				map[string]any{"role": "user", "content": "capital of China?"},
			}))
		})

		It("aggregates into one JSON record when stream is false", func() {
			resp := post("/api/chat", chatBody("deepseek-chat", boolPtr(false)))
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("application/json"))

			records := readRecords(resp.Body)
			Expect(records).To(HaveLen(1))
			Expect(records[0]).To(HaveKeyWithValue("done", true))
			Expect(records[0]["message"]).To(HaveKeyWithValue("content", "Beijing"))
		})

		It("publishes a completion event per stream", func() {
			resp := post("/api/chat", chatBody("deepseek-chat", nil))
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			Eventually(pub.published).Should(HaveLen(1))
			event := pub.published()[0]
			Expect(event.Source.Model).To(Equal("deepseek-chat"))
			Expect(event.Source.Provider).To(Equal("deepseek"))
			Expect(event.RequestMeta.Path).To(Equal("/api/chat"))
			Expect(event.RequestMeta.Shape).To(Equal("chat"))
			Expect(event.RequestMeta.Streaming).To(BeTrue())
			Expect(event.RequestMeta.RequestID).To(Equal(resp.Header.Get(header.RequestIDHeader)))
			Expect(event.Outcome.Records).To(Equal(3))
			Expect(event.Outcome.Deltas).To(Equal(2))
			Expect(event.Outcome.Terminated).To(BeTrue())
			Expect(event.Outcome.Error).To(BeEmpty())
		})
	})

	Context("when the upstream sends duplicate sentinels", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(sseUpstream(sseDelta("x"), sseDone, sseDone, sseDelta("late")))
			p = newTestProxy(upstream.URL, pub)
		})

		It("writes exactly one done record, last", func() {
			resp := post("/api/chat", chatBody("deepseek-chat", nil))
			defer resp.Body.Close()

			records := readRecords(resp.Body)
			Expect(records).To(HaveLen(2))
			Expect(records[1]).To(HaveKeyWithValue("done", true))
		})
	})

	Context("when the upstream hangs up without a sentinel", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(sseUpstream(sseDelta("Bei")))
			p = newTestProxy(upstream.URL, pub)
		})

		It("ends the stream after the delta without a done record", func() {
			resp := post("/api/chat", chatBody("deepseek-chat", nil))
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			records := readRecords(resp.Body)
			Expect(records).To(HaveLen(1))
			Expect(records[0]).To(HaveKeyWithValue("done", false))

			Eventually(pub.published).Should(HaveLen(1))
			Expect(pub.published()[0].Outcome.Terminated).To(BeFalse())
			Expect(pub.published()[0].Outcome.Error).To(BeEmpty())
		})
	})

	Context("when the upstream rejects the request", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"error":{"message":"invalid api key"}}`)
			}))
			p = newTestProxy(upstream.URL, pub)
		})

		It("returns one JSON error and no NDJSON", func() {
			resp := post("/api/chat", chatBody("deepseek-chat", nil))

			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("application/json"))
			Expect(errorBody(resp)).To(Equal(`upstream returned 401 Unauthorized: {"error":{"message":"invalid api key"}}`))
		})

		It("reports the rejection in telemetry", func() {
			resp := post("/api/generate", `{"model":"deepseek-chat","prompt":"hi"}`)
			resp.Body.Close()

			Eventually(pub.published).Should(HaveLen(1))
			Expect(pub.published()[0].Outcome.Error).To(ContainSubstring("401"))
			Expect(pub.published()[0].Outcome.Records).To(BeZero())
		})
	})

	Context("when the upstream breaks mid-stream", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				_, _ = io.WriteString(w, sseDelta("partial"))
				w.(http.Flusher).Flush()

				conn, _, err := w.(http.Hijacker).Hijack()
				if err == nil {
					conn.Close()
				}
			}))
			p = newTestProxy(upstream.URL, pub)
		})

		It("records the transport error", func() {
			// fasthttp aborts the chunked body, so the test client may report
			// the broken response as an error.
			req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(chatBody("deepseek-chat", nil)))
			req.Header.Set("Content-Type", "application/json")
			if resp, err := p.server.Test(req, -1); err == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}

			Eventually(pub.published).Should(HaveLen(1))
			event := pub.published()[0]
			Expect(event.Outcome.Error).To(ContainSubstring("reading upstream stream"))
			Expect(event.Outcome.Deltas).To(Equal(1))
			Expect(event.Outcome.Terminated).To(BeFalse())
		})
	})

	Context("when the upstream is unreachable", func() {
		BeforeEach(func() {
			closed := httptest.NewServer(http.NotFoundHandler())
			url := closed.URL
			closed.Close()
			p = newTestProxy(url, pub)
		})

		It("returns 502", func() {
			resp := post("/api/chat", chatBody("deepseek-chat", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			Expect(errorBody(resp)).To(HavePrefix("upstream request failed"))
		})
	})

	Context("with invalid requests", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(sseUpstream(sseDone))
			p = newTestProxy(upstream.URL, pub)
		})

		It("returns 404 for unknown models", func() {
			resp := post("/api/chat", chatBody("llama3", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(errorBody(resp)).To(Equal(`model "llama3" not found`))
		})

		It("returns 400 for undecodable bodies", func() {
			resp := post("/api/chat", `{"model":`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorBody(resp)).To(HavePrefix("invalid request body"))
		})

		It("returns 400 for chats without messages", func() {
			resp := post("/api/chat", `{"model":"deepseek-chat","messages":[]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorBody(resp)).To(Equal("messages must not be empty"))
		})

		It("returns 400 for generate without a prompt", func() {
			resp := post("/api/generate", `{"model":"deepseek-chat"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorBody(resp)).To(Equal("prompt must not be empty"))
		})

		It("publishes nothing for requests that never reach the upstream", func() {
			resp := post("/api/chat", chatBody("llama3", nil))
			resp.Body.Close()
			Consistently(pub.published, 100*time.Millisecond).Should(BeEmpty())
		})
	})

	Context("metadata endpoints", func() {
		BeforeEach(func() {
			p = newTestProxy("http://127.0.0.1:1", pub)
		})

		It("lists models in display form, default first", func() {
			resp := get("/api/tags")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var tags struct {
				Models []struct {
					Name    string         `json:"name"`
					Model   string         `json:"model"`
					Size    int64          `json:"size"`
					Digest  string         `json:"digest"`
					Details map[string]any `json:"details"`
				} `json:"models"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&tags)).To(Succeed())
			Expect(tags.Models).To(HaveLen(2))
			Expect(tags.Models[0].Name).To(Equal("deepseek:chat"))
			Expect(tags.Models[0].Model).To(Equal("deepseek:chat"))
			Expect(tags.Models[1].Name).To(Equal("glm:4"))
			Expect(tags.Models[0].Size).To(Equal(int64(3825819519)))
			Expect(tags.Models[0].Digest).To(MatchRegexp(`^sha256:[0-9a-f]{64}$`))
			Expect(tags.Models[0].Details).To(HaveKeyWithValue("family", "llama"))
		})

		It("reports the default model on ping", func() {
			resp := get("/api/ping")
			defer resp.Body.Close()

			var ping map[string]string
			Expect(json.NewDecoder(resp.Body).Decode(&ping)).To(Succeed())
			Expect(ping).To(Equal(map[string]string{"model_name": "deepseek-chat"}))
		})

		It("reports the build version", func() {
			resp := get("/api/version")
			defer resp.Body.Close()

			var version map[string]string
			Expect(json.NewDecoder(resp.Body).Decode(&version)).To(Succeed())
			Expect(version).To(HaveKeyWithValue("version", utils.Version))
		})

		It("answers the root liveness probe like Ollama", func() {
			resp := get("/")
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("Ollama is running"))
		})

		It("allows cross-origin requests", func() {
			req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
			req.Header.Set("Origin", "http://localhost:3000")
			req.Header.Set("Access-Control-Request-Method", "POST")

			resp, err := p.server.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Context("when the client disconnects mid-stream", func() {
		var upstreamGone chan struct{}

		BeforeEach(func() {
			upstreamGone = make(chan struct{})
			delta := sseDelta("tick")
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				defer close(upstreamGone)
				w.Header().Set("Content-Type", "text/event-stream")
				ticker := time.NewTicker(10 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-r.Context().Done():
						return
					case <-ticker.C:
						if _, err := io.WriteString(w, delta); err != nil {
							return
						}
						w.(http.Flusher).Flush()
					}
				}
			}))
			p = newTestProxy(upstream.URL, pub)
		})

		It("cancels the upstream request", func() {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			go func() {
				_ = p.RunWithListener(ln)
			}()

			resp, err := http.Post("http://"+ln.Addr().String()+"/api/chat", "application/json",
				strings.NewReader(chatBody("deepseek-chat", nil)))
			Expect(err).NotTo(HaveOccurred())

			buf := make([]byte, 64)
			_, err = resp.Body.Read(buf)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			Eventually(upstreamGone, 10*time.Second).Should(BeClosed())
			Eventually(pub.published, 5*time.Second).Should(HaveLen(1))
			Expect(pub.published()[0].Outcome.Terminated).To(BeFalse())
		})
	})
})
