package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/greenbucks/internal/extraction"
)

func completion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   DefaultChatModel,
		"choices": []any{
			map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 10, "total_tokens": 20},
	}
}

var _ = Describe("Chat", func() {
	var (
		server *ghttp.Server
		chat   *Chat
		text   string
		items  []extraction.ParsedItem
		err    error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var newErr error
		chat, newErr = NewChat(ChatConfig{BaseURL: server.URL(), APIKey: "test-key"})
		Expect(newErr).NotTo(HaveOccurred())
		text = "Milk 3.50\nEggs\n4.25\nTOTAL 7.75"
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		items, err = chat.ParseItems(context.Background(), text)
	})

	When("the model returns items", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/chat/completions"),
				ghttp.VerifyHeaderKV("Authorization", "Bearer test-key"),
				func(w http.ResponseWriter, r *http.Request) {
					var req struct {
						Model    string `json:"model"`
						Messages []struct {
							Role string `json:"role"`
						} `json:"messages"`
						ResponseFormat struct {
							Type string `json:"type"`
						} `json:"response_format"`
					}
					Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
					Expect(req.Model).To(Equal(DefaultChatModel))
					Expect(req.Messages).To(HaveLen(2))
					Expect(req.Messages[0].Role).To(Equal("system"))
					Expect(req.ResponseFormat.Type).To(Equal("json_object"))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, completion(
					`{"items":[{"name":"Milk","price":3.50},{"name":"Eggs","price":4.25}]}`,
				)),
			))
		})

		It("returns the parsed items", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(Equal([]extraction.ParsedItem{
				extraction.NewItem("Milk", 3.50),
				extraction.NewItem("Eggs", 4.25),
			}))
		})
	})

	When("the model returns malformed JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, completion("sorry")))
		})

		It("returns an error", func() {
			Expect(err).To(MatchError(ContainSubstring("parsing chat reply")))
		})
	})

	When("the endpoint fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, `{"error":{"message":"overloaded"}}`))
		})

		It("returns an error", func() {
			Expect(err).To(HaveOccurred())
			Expect(items).To(BeEmpty())
		})
	})

	When("the text is empty", func() {
		BeforeEach(func() {
			text = "   "
		})

		It("does not call the endpoint", func() {
			Expect(errors.Is(err, extraction.ErrEmptyText)).To(BeTrue())
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})
})

var _ = Describe("NewChat", func() {
	It("requires an API key", func() {
		_, err := NewChat(ChatConfig{})
		Expect(errors.Is(err, extraction.ErrNoCredentials)).To(BeTrue())
	})
})
