package transfer

type PostCreation struct {
	Caption          string `validate:"max=63206"`
	Title            string `validate:"max=100"`
	ScheduledTime    string `validate:"omitempty"`
	SelectedAccounts string `validate:"required"`
}

// TargetEnqueue reports the queue hand-off of one target of a new post.
type TargetEnqueue struct {
	TargetID  int64  `json:"target_id"`
	AccountID int64  `json:"account_id"`
	Platform  string `json:"platform"`
	Result    string `json:"result"`
	Error     string `json:"error,omitempty"`
}

type PostCreated struct {
	PostID  int64           `json:"post_id"`
	Targets []TargetEnqueue `json:"targets"`
}
