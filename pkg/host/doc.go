// Package host models the OpenCode server surface consumed by the injector:
// session history listing, message delivery and the event stream.
//
// Usage:
//
//	client, _ := host.NewClient(host.ClientConfig{BaseURL: "http://127.0.0.1:4096"})
//	messages, _ := client.Messages(ctx, "ses_123", 50)
//	_ = client.Prompt(ctx, host.PromptRequest{
//		SessionID: "ses_123",
//		NoReply:   true,
//		Parts:     []host.Part{host.TextPart("hello", true)},
//	})
package host
