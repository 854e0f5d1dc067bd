package nexus

import (
	"encoding/json"
	"strconv"

	"modfeed_bot/internal/model"
)

type gameResponse struct {
	ID           int64              `json:"id"`
	Name         string             `json:"name"`
	DomainName   string             `json:"domain_name"`
	NexusmodsURL string             `json:"nexusmods_url"`
	ApprovedDate int64              `json:"approved_date"`
	Categories   []categoryResponse `json:"categories"`
}

// parent_category is either false or a category id.
type categoryResponse struct {
	CategoryID     int64           `json:"category_id"`
	Name           string          `json:"name"`
	ParentCategory json.RawMessage `json:"parent_category"`
}

func (g gameResponse) toModel() model.Game {
	game := model.Game{
		ID:       g.ID,
		Name:     g.Name,
		Domain:   g.DomainName,
		URL:      g.NexusmodsURL,
		Approved: g.ApprovedDate > 0,
	}
	for _, c := range g.Categories {
		parent, _ := strconv.ParseInt(string(c.ParentCategory), 10, 64)
		game.Categories = append(game.Categories, model.Category{
			ID:       c.CategoryID,
			Name:     c.Name,
			ParentID: parent,
		})
	}
	return game
}

type updatedModResponse struct {
	ModID             int64 `json:"mod_id"`
	LatestFileUpdate  int64 `json:"latest_file_update"`
	LatestModActivity int64 `json:"latest_mod_activity"`
}

func (u updatedModResponse) toModel() model.Candidate {
	latest := u.LatestFileUpdate
	if latest == 0 {
		latest = u.LatestModActivity
	}
	return model.Candidate{ModID: u.ModID, LatestUpdate: latest, Available: true}
}

type modResponse struct {
	ModID                   int64  `json:"mod_id"`
	GameID                  int64  `json:"game_id"`
	DomainName              string `json:"domain_name"`
	Name                    string `json:"name"`
	Summary                 string `json:"summary"`
	PictureURL              string `json:"picture_url"`
	Version                 string `json:"version"`
	CategoryID              int64  `json:"category_id"`
	Author                  string `json:"author"`
	UploadedBy              string `json:"uploaded_by"`
	UploadedUsersProfileURL string `json:"uploaded_users_profile_url"`
	Status                  string `json:"status"`
	Available               bool   `json:"available"`
	ContainsAdultContent    bool   `json:"contains_adult_content"`
	CreatedTimestamp        int64  `json:"created_timestamp"`
	UpdatedTimestamp        int64  `json:"updated_timestamp"`
}

func (m modResponse) toModel() model.ModDetail {
	return model.ModDetail{
		ModID:            m.ModID,
		GameID:           m.GameID,
		Domain:           m.DomainName,
		Name:             m.Name,
		Summary:          m.Summary,
		PictureURL:       m.PictureURL,
		Version:          m.Version,
		CategoryID:       m.CategoryID,
		Author:           m.Author,
		UploadedBy:       m.UploadedBy,
		UploaderURL:      m.UploadedUsersProfileURL,
		Status:           m.Status,
		Available:        m.Available,
		ContainsAdult:    m.ContainsAdultContent,
		CreatedTimestamp: m.CreatedTimestamp,
		UpdatedTimestamp: m.UpdatedTimestamp,
	}
}

type validateResponse struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}
