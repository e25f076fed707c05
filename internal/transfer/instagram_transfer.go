package transfer

// GraphContainer is the status view of an Instagram or Threads media
// container. Instagram reports status_code, Threads reports status.
type GraphContainer struct {
	ID           string `json:"id"`
	StatusCode   string `json:"status_code"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

func (c GraphContainer) State() string {
	if c.StatusCode != "" {
		return c.StatusCode
	}
	return c.Status
}

type GraphID struct {
	ID string `json:"id"`
}
