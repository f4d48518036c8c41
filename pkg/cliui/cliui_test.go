package cliui_test

import (
	"bytes"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/lumos/pkg/cliui"
)

var _ = Describe("Mark", func() {
	It("marks success and failure", func() {
		Expect(cliui.Mark(nil)).To(Equal(cliui.SuccessMark))
		Expect(cliui.Mark(errors.New("boom"))).To(Equal(cliui.FailMark))
	})
})

var _ = DescribeTable("FormatDuration",
	func(d time.Duration, want string) {
		Expect(cliui.FormatDuration(d)).To(Equal(want))
	},
	Entry("milliseconds", 12*time.Millisecond, "12ms"),
	Entry("zero", time.Duration(0), "0ms"),
	Entry("seconds", 3200*time.Millisecond, "3.2s"),
	Entry("exactly one second", time.Second, "1.0s"),
)

var _ = Describe("Step", func() {
	It("returns the function's error and prints the final line", func() {
		var buf bytes.Buffer
		boom := errors.New("boom")

		err := cliui.Step(&buf, "checking deepseek-chat", func() error { return boom })

		Expect(err).To(MatchError(boom))
		Expect(buf.String()).To(ContainSubstring("checking deepseek-chat"))
		Expect(buf.String()).To(HaveSuffix("\n"))
		Expect(buf.String()).To(ContainSubstring(cliui.FailMark))
	})

	It("prints a success mark when the function succeeds", func() {
		var buf bytes.Buffer
		Expect(cliui.Step(&buf, "ok", func() error { return nil })).To(Succeed())
		Expect(buf.String()).To(ContainSubstring(cliui.SuccessMark))
	})
})
