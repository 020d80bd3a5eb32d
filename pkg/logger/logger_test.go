package logger_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/papercomputeco/chatrelay/pkg/logger"
)

var _ = Describe("Logger", func() {
	Describe("New", func() {
		var buf *bytes.Buffer

		BeforeEach(func() {
			buf = &bytes.Buffer{}
		})

		It("writes console lines with level and fields", func() {
			log := logger.New(buf, zapcore.InfoLevel, false)
			log.Info("chat relay listening", zap.String("listen", ":3004"))
			Expect(log.Sync()).To(Succeed())

			Expect(buf.String()).To(ContainSubstring("INFO"))
			Expect(buf.String()).To(ContainSubstring("chat relay listening"))
			Expect(buf.String()).To(ContainSubstring(`"listen": ":3004"`))
		})

		It("drops entries below the configured level", func() {
			log := logger.New(buf, zapcore.InfoLevel, false)
			log.Debug("hidden")

			Expect(buf.String()).To(BeEmpty())
		})

		It("emits ANSI colors only when asked", func() {
			plain := logger.New(buf, zapcore.InfoLevel, false)
			plain.Info("plain")
			Expect(buf.String()).NotTo(ContainSubstring("\x1b["))

			buf.Reset()
			colored := logger.New(buf, zapcore.InfoLevel, true)
			colored.Info("colored")
			Expect(buf.String()).To(ContainSubstring("\x1b["))
		})
	})

	Describe("ParseLevel", func() {
		DescribeTable("known levels",
			func(in string, want zapcore.Level) {
				level, err := logger.ParseLevel(in)
				Expect(err).NotTo(HaveOccurred())
				Expect(level).To(Equal(want))
			},
			Entry("debug", "debug", zapcore.DebugLevel),
			Entry("upper case", "INFO", zapcore.InfoLevel),
			Entry("empty defaults to info", "", zapcore.InfoLevel),
			Entry("warning alias", "warning", zapcore.WarnLevel),
			Entry("error", "error", zapcore.ErrorLevel),
		)

		It("rejects unknown levels", func() {
			_, err := logger.ParseLevel("verbose")
			Expect(err).To(MatchError(ContainSubstring("verbose")))
		})
	})
})
