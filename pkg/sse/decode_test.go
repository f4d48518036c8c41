package sse

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Decode", func() {
	DescribeTable("classification",
		func(unit string, kind Kind, text string) {
			ev, err := Decode(unit)
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.Kind).To(Equal(kind))
			Expect(ev.Text).To(Equal(text))
		},
		Entry("content delta",
			`data: {"choices":[{"delta":{"content":"Bei"}}]}`, ContentDelta, "Bei"),
		Entry("content delta with whitespace kept inside the text",
			`data: {"choices":[{"delta":{"content":" jing\n"}}]}`, ContentDelta, " jing\n"),
		Entry("terminal sentinel",
			"data: [DONE]", Terminal, ""),
		Entry("terminal sentinel with surrounding whitespace",
			"  data: [DONE]\n", Terminal, ""),
		Entry("role-only delta",
			`data: {"choices":[{"delta":{"role":"assistant"}}]}`, Ignorable, ""),
		Entry("empty content",
			`data: {"choices":[{"delta":{"content":""}}]}`, Ignorable, ""),
		Entry("null content",
			`data: {"choices":[{"delta":{"content":null}}]}`, Ignorable, ""),
		Entry("numeric content",
			`data: {"choices":[{"delta":{"content":42}}]}`, Ignorable, ""),
		Entry("no choices",
			`data: {"choices":[]}`, Ignorable, ""),
		Entry("usage-only chunk",
			`data: {"usage":{"total_tokens":12}}`, Ignorable, ""),
		Entry("comment line",
			": keep-alive", Ignorable, ""),
		Entry("event line without data",
			"event: ping", Ignorable, ""),
		Entry("sentinel without space is not terminal",
			"data:[DONE]", Ignorable, ""),
	)

	It("reports malformed JSON as ignorable with ErrMalformedEvent", func() {
		ev, err := Decode(`data: {"choices":[`)
		Expect(err).To(MatchError(ErrMalformedEvent))
		Expect(ev.Kind).To(Equal(Ignorable))
		Expect(ev.Text).To(BeEmpty())
	})

	It("does not treat a sentinel with trailing text as terminal", func() {
		ev, err := Decode("data: [DONE] now")
		Expect(err).To(MatchError(ErrMalformedEvent))
		Expect(ev.Kind).To(Equal(Ignorable))
	})

	It("only reads the first choice", func() {
		ev, err := Decode(`data: {"choices":[{"delta":{}},{"delta":{"content":"second"}}]}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(ev.Kind).To(Equal(Ignorable))
	})

	It("decodes the same unit identically every time", func() {
		unit := `data: {"choices":[{"delta":{"content":"same"}}]}`
		first, _ := Decode(unit)
		for range 5 {
			again, _ := Decode(unit)
			Expect(again).To(Equal(first))
		}
	})

	It("names each kind", func() {
		Expect(ContentDelta.String()).To(Equal("content_delta"))
		Expect(Terminal.String()).To(Equal("terminal"))
		Expect(Ignorable.String()).To(Equal("ignorable"))
	})
})
