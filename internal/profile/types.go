package profile

// Profile is the structured view of what the assistant knows about its
// user across discussions: who they are, how they want to be spoken to,
// and durable facts worth carrying between sessions.
type Profile struct {
	Identity  Identity
	Speech    SpeechPreferences
	Interests []string
	Facts     map[string]string // e.g. "dog_name" → "Bruno"
}

// Identity captures who the user is.
type Identity struct {
	Name string
	Role string
}

// SpeechPreferences capture how responses should be voiced.
type SpeechPreferences struct {
	Tone      string // e.g. "warm, conversational"
	Verbosity string // e.g. "brief"
	Language  string // BCP 47 tag, e.g. "en-US"
}
