package turn

// Agent is the configuration of the bot handling a conversation. The
// pipeline receives it resolved; agent CRUD lives outside this module.
type Agent struct {
	ID   string
	Name string

	// Model settings for completion calls made on this agent's behalf.
	Model       string
	MaxTokens   int
	Temperature float64
}
