package domain

// Configuration snapshot keys.
const (
	SettingLastKeywords        = "last_keywords"
	SettingLastLocation        = "last_location"
	SettingLastMaxApplications = "last_max_applications"
)

// Settings are the last-used search preferences.
type Settings struct {
	Keywords        []string `json:"keywords"`
	Location        string   `json:"location"`
	JobType         string   `json:"job_type"`
	MaxApplications int      `json:"max_applications"`
	MaxPages        int      `json:"max_pages"`
}
