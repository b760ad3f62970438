package hubwatch

// PublisherState is one publisher's item listing as of the last successful poll.
//
// Models holds hub model identifiers in the provider's last-modified-descending
// order at fetch time and contains no duplicates.
type PublisherState struct {
	Models []string `json:"models"`
}

// ChatUser is a display-name snapshot of one tracked chat participant.
type ChatUser struct {
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// BankQuestion is one pre-generated quiz question/answer pair.
type BankQuestion struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// StateDocument is the full durable state of the bot.
//
// Unknown or missing top-level keys default to empty containers on load, so
// documents written by older or newer versions remain loadable.
type StateDocument struct {
	// Orgs maps publisher identifiers to their last-known listing.
	Orgs map[string]PublisherState `json:"orgs"`
	// ChatUsers maps chat id -> user id -> display-name snapshot.
	ChatUsers map[string]map[string]ChatUser `json:"chat_users"`
	// QuestionBank is the ordered durable queue of pre-generated questions.
	QuestionBank []BankQuestion `json:"question_bank"`
}

// NewStateDocument returns a fresh document with all containers allocated.
func NewStateDocument() *StateDocument {
	return &StateDocument{
		Orgs:         make(map[string]PublisherState),
		ChatUsers:    make(map[string]map[string]ChatUser),
		QuestionBank: make([]BankQuestion, 0),
	}
}

// FillDefaults allocates any containers left nil by decoding.
func (d *StateDocument) FillDefaults() {
	if d.Orgs == nil {
		d.Orgs = make(map[string]PublisherState)
	}
	if d.ChatUsers == nil {
		d.ChatUsers = make(map[string]map[string]ChatUser)
	}
	if d.QuestionBank == nil {
		d.QuestionBank = make([]BankQuestion, 0)
	}
}

// StateStore owns the in-memory state document and its on-disk mirror.
//
// The store serializes all mutators: Update holds an exclusive lock for the
// duration of fn and persists the full document atomically before returning,
// so a mutation that must survive a crash is durable by the time Update
// returns. View holds a shared lock and must not mutate the document.
type StateStore interface {
	// Update applies fn to the document and persists the result atomically.
	Update(fn func(doc *StateDocument)) error
	// View calls fn with read access to the current document.
	View(fn func(doc *StateDocument))
}
