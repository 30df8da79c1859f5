package chat_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/brandloom/personachat/pkg/chat"
)

func TestChat(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Chat Suite")
}

var _ = Describe("Messages", func() {
	Describe("NewUserMessage", func() {
		It("should create a user message with trimmed content", func() {
			msg := chat.NewUserMessage("  Hello World  ")

			Expect(msg.Role).To(Equal(chat.RoleUser))
			Expect(msg.Content).To(Equal("Hello World"))
			Expect(msg.CreatedAt).To(BeTemporally("~", time.Now(), time.Second))
		})

		It("should assign a temporary id", func() {
			msg := chat.NewUserMessage("hi")

			Expect(msg.ID).To(HavePrefix("temp-user-"))
			Expect(msg.IsTemporary()).To(BeTrue())
		})

		It("should mint distinct ids for messages created in the same instant", func() {
			seen := map[string]bool{}
			for i := 0; i < 100; i++ {
				seen[chat.NewUserMessage("x").ID] = true
				seen[chat.NewAssistantPlaceholder().ID] = true
			}
			Expect(seen).To(HaveLen(200))
		})

		It("should handle empty content", func() {
			msg := chat.NewUserMessage("   ")

			Expect(msg.Content).To(Equal(""))
			Expect(msg.IsEmpty()).To(BeTrue())
		})
	})

	Describe("NewAssistantPlaceholder", func() {
		It("should create an empty assistant message with a streaming id", func() {
			msg := chat.NewAssistantPlaceholder()

			Expect(msg.Role).To(Equal(chat.RoleAssistant))
			Expect(msg.Content).To(BeEmpty())
			Expect(msg.ID).To(HavePrefix("streaming-"))
			Expect(msg.IsTemporary()).To(BeTrue())
			Expect(msg.Usage).To(BeNil())
		})
	})

	Describe("IsTemporaryID", func() {
		It("should recognize both temporary prefixes", func() {
			Expect(chat.IsTemporaryID("temp-user-123")).To(BeTrue())
			Expect(chat.IsTemporaryID("streaming-456")).To(BeTrue())
		})

		It("should treat server ids as resolved", func() {
			Expect(chat.IsTemporaryID("msg_01H")).To(BeFalse())
			Expect(chat.IsTemporaryID("")).To(BeFalse())
		})
	})

	Describe("role predicates", func() {
		It("should classify roles", func() {
			Expect(chat.NewUserMessage("x").IsUser()).To(BeTrue())
			Expect(chat.NewUserMessage("x").IsAssistant()).To(BeFalse())
			Expect(chat.NewAssistantPlaceholder().IsAssistant()).To(BeTrue())
		})
	})
})
