package api

// Category is one stimulus/response rule as handed over by a rule reader.
// It is transient: the graph decomposes it into edges and a leaf payload
// and never stores the record itself.
type Category struct {
	// Pattern is the input pattern (e.g. "HELLO *"). Empty means "*".
	Pattern string `json:"pattern"`
	// That is the prior-output context. Empty means "*".
	That string `json:"that,omitempty"`
	// Topic is the active topic context. Empty means "*".
	Topic string `json:"topic,omitempty"`
	// Template is the response body markup, opaque to the graph
	// except for merging.
	Template string `json:"template"`
	// Source identifies where the category came from (file path or URL).
	Source string `json:"source"`
	// BotID is the bot the category answers for.
	BotID string `json:"bot_id"`
}
