package domain

// SubscriptionKeys is the client key material a push service expects.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is a push-delivery target registered against an identity.
// Opaque to the core beyond routing by endpoint.
type PushSubscription struct {
	Endpoint string           `json:"endpoint"`
	Keys     SubscriptionKeys `json:"keys"`
}

// PushPayload is what a push service ultimately renders.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// previewLimit caps the notification body excerpt.
const previewLimit = 50

// MessagePreview builds the notification payload for a chat message,
// truncating long content by runes.
func MessagePreview(sender, content string) PushPayload {
	body := sender + ": "
	runes := []rune(content)
	if len(runes) > previewLimit {
		body += string(runes[:previewLimit]) + "..."
	} else {
		body += content
	}
	return PushPayload{Title: "New Message", Body: body}
}
