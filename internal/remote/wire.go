package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xprocessing/neoaigc/internal/domain"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type submitResponse struct {
	TaskID flexString `json:"taskId"`
}

type jobResponse struct {
	Data *jobDTO `json:"data"`
}

type jobListResponse struct {
	Data  []jobDTO `json:"data"`
	Total int      `json:"total"`
}

type challengeResponse struct {
	QRCodeURL string `json:"qrCodeUrl"`
	State     string `json:"state"`
}

type loginResponse struct {
	Token string   `json:"token"`
	User  *userDTO `json:"user"`
}

type userResponse struct {
	User *userDTO `json:"user"`
}

type templateListResponse struct {
	Data []templateDTO `json:"data"`
}

type jobDTO struct {
	ID           flexString `json:"id"`
	UserID       flexString `json:"userId"`
	Type         string     `json:"type"`
	Prompt       string     `json:"prompt"`
	ImageURL     string     `json:"imageUrl"`
	ResultURL    string     `json:"resultUrl"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"errorMessage"`
	CreatedAt    flexTime   `json:"createdAt"`
	UpdatedAt    flexTime   `json:"updatedAt"`
}

func (d jobDTO) toDomain() domain.Job {
	return domain.Job{
		ID:           string(d.ID),
		UserID:       string(d.UserID),
		Modality:     domain.Modality(d.Type),
		Prompt:       d.Prompt,
		ImageURL:     d.ImageURL,
		ResultURL:    d.ResultURL,
		Status:       domain.JobStatus(strings.ToUpper(d.Status)),
		ErrorMessage: d.ErrorMessage,
		CreatedAt:    time.Time(d.CreatedAt),
		UpdatedAt:    time.Time(d.UpdatedAt),
	}
}

type userDTO struct {
	ID       flexString `json:"id"`
	OpenID   string     `json:"openId"`
	Nickname string     `json:"nickname"`
	Avatar   string     `json:"avatar"`
	Balance  int        `json:"balance"`
}

func (d userDTO) toDomain() domain.User {
	return domain.User{ID: string(d.ID), OpenID: d.OpenID, Nickname: d.Nickname, Avatar: d.Avatar, Balance: d.Balance}
}

type templateDTO struct {
	ID           flexString `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Type         int        `json:"type"`
	Prompt       string     `json:"prompt"`
	PreviewImage string     `json:"previewImage"`
	Sort         int        `json:"sort"`
}

func (d templateDTO) toDomain() domain.Template {
	return domain.Template{
		ID:           string(d.ID),
		Name:         d.Name,
		Description:  d.Description,
		Type:         d.Type,
		Prompt:       d.Prompt,
		PreviewImage: d.PreviewImage,
		Sort:         d.Sort,
	}
}

// flexString accepts identifiers encoded either as JSON strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

// flexTime accepts RFC 3339, zone-less ISO local date-times and the
// [y, m, d, h, min, s, nanos] array form.
type flexTime time.Time

var localLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = flexTime{}
		return nil
	}
	if b[0] == '[' {
		var parts []int
		if err := json.Unmarshal(b, &parts); err != nil {
			return err
		}
		for len(parts) < 7 {
			parts = append(parts, 0)
		}
		*f = flexTime(time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], parts[6], time.Local))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*f = flexTime{}
		return nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			*f = flexTime(t)
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
