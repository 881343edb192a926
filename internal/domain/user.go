package domain

// User is the profile returned for the current credential.
type User struct {
	ID       string `json:"id"`
	OpenID   string `json:"openId"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Balance  int    `json:"balance"`
}

// DisplayName falls back to the id when the profile has no nickname.
func (u User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.ID
}

// Template is a prompt preset offered for one modality.
type Template struct {
	ID           string
	Name         string
	Description  string
	Type         int
	Prompt       string
	PreviewImage string
	Sort         int
}
