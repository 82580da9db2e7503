package domain

// HistoryMessage is one flattened turn of persisted session history.
type HistoryMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Session scopes one conversation thread: all turns sharing a
// (userID, chatID, rootID) triple share one session.
type Session struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	ChatID       string `json:"chat_id"`
	RootID       string `json:"root_id"`
	CreatedAt    int64  `json:"created_at"`
	LastActiveAt int64  `json:"last_active_at"`
}

// Skill is a named instruction block injected into the system prompt.
type Skill struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Source  string `json:"source"` // "global" or "user"
}

// MemoryEntry is one persisted fact about a user.
type MemoryEntry struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Content    string `json:"content"`
	Category   string `json:"category"` // preference, fact, event, skill
	Importance int    `json:"importance"`
	CreatedAt  string `json:"created_at"`
}

// AgentContext carries everything one agent run needs.
type AgentContext struct {
	UserID      string
	Message     UnifiedMessage
	SessionID   string
	History     []HistoryMessage
	Soul        string
	UserProfile string
	Skills      []Skill
	Memories    []MemoryEntry
	Tools       []ToolSchema
}

// ToolCallRecord is a completed tool call with its result, kept in order.
type ToolCallRecord struct {
	ToolCall
	Result ToolResult `json:"result"`
}

// AgentResult is the terminal outcome of one agent run. It is produced
// exactly once per task and consumed by the reply sender and the session
// history appender.
type AgentResult struct {
	Text       string           `json:"text"`
	ToolCalls  []ToolCallRecord `json:"tool_calls"`
	TokensUsed Usage            `json:"tokens_used"`
}

// Task priorities.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// AgentTask wraps one inbound message plus its resolved session for the
// task queue. The message id doubles as the queue deduplication key.
type AgentTask struct {
	UserID   string         `json:"user_id"`
	Message  UnifiedMessage `json:"message"`
	Session  Session        `json:"session"`
	Priority string         `json:"priority,omitempty"`
}
