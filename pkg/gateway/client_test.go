package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatrelay/pkg/gateway"
)

var _ = Describe("Client", func() {
	var (
		ctx      context.Context
		upstream *httptest.Server
		calls    atomic.Int32
		received atomic.Value
		handler  fiber.Handler
	)

	BeforeEach(func() {
		ctx = context.Background()
		calls.Store(0)
		received.Store("")

		handler = func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{"reply": "pong"})
		}

		app := fiber.New(fiber.Config{DisableStartupMessage: true})
		app.Post(gateway.ChatPath, func(c *fiber.Ctx) error {
			calls.Add(1)
			received.Store(string(c.Body()))
			return handler(c)
		})
		upstream = httptest.NewServer(adaptor.FiberApp(app))
	})

	AfterEach(func() {
		upstream.Close()
	})

	Describe("New", func() {
		It("appends the chat path to the base URL", func() {
			client := gateway.New("http://gateway.local:18789", time.Second)
			Expect(client.URL()).To(Equal("http://gateway.local:18789/api/chat"))
		})

		It("tolerates a trailing slash", func() {
			client := gateway.New("http://gateway.local:18789/", time.Second)
			Expect(client.URL()).To(Equal("http://gateway.local:18789/api/chat"))
		})
	})

	Describe("Send", func() {
		Context("when the gateway replies", func() {
			It("returns the reply", func() {
				handler = func(c *fiber.Ctx) error {
					return c.JSON(fiber.Map{"reply": "你好呀"})
				}
				client := gateway.New(upstream.URL, time.Second)

				result := client.Send(ctx, "hello")

				Expect(result.OK()).To(BeTrue())
				Expect(result.Outcome).To(Equal(gateway.OutcomeReply))
				Expect(result.Reply).To(Equal("你好呀"))
				Expect(result.Err).NotTo(HaveOccurred())
				Expect(result.Status).To(Equal(fiber.StatusOK))
			})

			It("posts the message as JSON exactly once", func() {
				client := gateway.New(upstream.URL, time.Second)

				client.Send(ctx, "hello")

				Expect(calls.Load()).To(Equal(int32(1)))
				var body map[string]any
				Expect(json.Unmarshal([]byte(received.Load().(string)), &body)).To(Succeed())
				Expect(body).To(Equal(map[string]any{"message": "hello"}))
			})

			It("ignores extra fields in the gateway response", func() {
				handler = func(c *fiber.Ctx) error {
					return c.JSON(fiber.Map{"reply": "ok", "model": "x", "usage": fiber.Map{"tokens": 3}})
				}
				client := gateway.New(upstream.URL, time.Second)

				Expect(client.Send(ctx, "hi").Reply).To(Equal("ok"))
			})

			It("accepts any 2xx status", func() {
				handler = func(c *fiber.Ctx) error {
					return c.Status(fiber.StatusCreated).JSON(fiber.Map{"reply": "created"})
				}
				client := gateway.New(upstream.URL, time.Second)

				result := client.Send(ctx, "hi")
				Expect(result.Outcome).To(Equal(gateway.OutcomeReply))
				Expect(result.Status).To(Equal(fiber.StatusCreated))
			})
		})

		Context("when the gateway answers without a usable reply", func() {
			DescribeTable("classifies the body as malformed",
				func(body string) {
					handler = func(c *fiber.Ctx) error {
						c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
						return c.SendString(body)
					}
					client := gateway.New(upstream.URL, time.Second)

					result := client.Send(ctx, "hi")

					Expect(result.Outcome).To(Equal(gateway.OutcomeMalformed))
					Expect(result.OK()).To(BeFalse())
					Expect(result.Reply).To(BeEmpty())
					Expect(result.Err).To(HaveOccurred())
				},
				Entry("missing reply field", `{"answer":"hi"}`),
				Entry("null reply", `{"reply":null}`),
				Entry("empty reply", `{"reply":""}`),
				Entry("non-string reply", `{"reply":42}`),
				Entry("JSON array", `["hi"]`),
				Entry("JSON null", `null`),
				Entry("not JSON", `<html>hi</html>`),
				Entry("empty body", ``),
			)
		})

		Context("when the gateway fails", func() {
			It("treats a non-2xx status as unavailable", func() {
				handler = func(c *fiber.Ctx) error {
					return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"reply": "ignored"})
				}
				client := gateway.New(upstream.URL, time.Second)

				result := client.Send(ctx, "hi")

				Expect(result.Outcome).To(Equal(gateway.OutcomeUnavailable))
				Expect(result.Status).To(Equal(fiber.StatusServiceUnavailable))
				Expect(errors.Is(result.Err, gateway.ErrUpstreamStatus)).To(BeTrue())
			})

			It("treats a refused connection as unavailable", func() {
				url := upstream.URL
				upstream.Close()
				client := gateway.New(url, time.Second)

				result := client.Send(ctx, "test")

				Expect(result.Outcome).To(Equal(gateway.OutcomeUnavailable))
				Expect(result.Status).To(BeZero())
				Expect(result.Err).To(HaveOccurred())
			})

			It("abandons the call once the timeout expires", func() {
				handler = func(c *fiber.Ctx) error {
					time.Sleep(500 * time.Millisecond)
					return c.JSON(fiber.Map{"reply": "too late"})
				}
				client := gateway.New(upstream.URL, 50*time.Millisecond)

				start := time.Now()
				result := client.Send(ctx, "hi")

				Expect(result.Outcome).To(Equal(gateway.OutcomeUnavailable))
				Expect(result.Reply).To(BeEmpty())
				Expect(time.Since(start)).To(BeNumerically("<", 400*time.Millisecond))
			})

			It("treats a cancelled caller context as unavailable", func() {
				cancelled, cancel := context.WithCancel(ctx)
				cancel()
				client := gateway.New(upstream.URL, time.Second)

				result := client.Send(cancelled, "hi")

				Expect(result.Outcome).To(Equal(gateway.OutcomeUnavailable))
				Expect(errors.Is(result.Err, context.Canceled)).To(BeTrue())
				Expect(calls.Load()).To(BeZero())
			})
		})
	})

	Describe("WithHTTPClient", func() {
		It("sends through the supplied client", func() {
			var seen atomic.Int32
			hc := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
				seen.Add(1)
				return http.DefaultTransport.RoundTrip(req)
			})}
			client := gateway.New(upstream.URL, time.Second, gateway.WithHTTPClient(hc))

			result := client.Send(ctx, "hi")

			Expect(result.Reply).To(Equal("pong"))
			Expect(seen.Load()).To(Equal(int32(1)))
		})

		It("still bounds the call with the configured timeout", func() {
			handler = func(c *fiber.Ctx) error {
				time.Sleep(300 * time.Millisecond)
				return c.JSON(fiber.Map{"reply": "too late"})
			}
			client := gateway.New(upstream.URL, 50*time.Millisecond, gateway.WithHTTPClient(&http.Client{}))

			result := client.Send(ctx, "hi")

			Expect(result.Outcome).To(Equal(gateway.OutcomeUnavailable))
			Expect(errors.Is(result.Err, context.DeadlineExceeded)).To(BeTrue())
		})
	})

	Describe("Outcome", func() {
		It("has readable names", func() {
			Expect(gateway.OutcomeReply.String()).To(Equal("reply"))
			Expect(gateway.OutcomeMalformed.String()).To(Equal("malformed"))
			Expect(gateway.OutcomeUnavailable.String()).To(Equal("unavailable"))
			Expect(gateway.Outcome(99).String()).To(Equal("unknown"))
		})
	})
})

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
