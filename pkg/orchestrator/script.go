package orchestrator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/claimbridge/pkg/asset"
)

// Script describes the portal being automated: where each route lives and
// which phrases, labels and values each step looks for.
type Script struct {
	Routes    RoutePatterns   `yaml:"routes"`
	Login     LoginScript     `yaml:"login"`
	Contact   ContactScript   `yaml:"contact"`
	Documents DocumentsScript `yaml:"documents"`
	Delays    Delays          `yaml:"delays"`
}

// RoutePatterns are glob patterns matched against the page address, with
// query and fragment removed.
type RoutePatterns struct {
	Login          []string `yaml:"login"`
	ContactDetails []string `yaml:"contact_details"`
	Documents      []string `yaml:"documents"`
}

// LoginScript drives the login route.
type LoginScript struct {
	// FormPhrase identifies the login form by text it contains
	FormPhrase   string  `yaml:"form_phrase"`
	Fields       []Field `yaml:"fields"`
	ConsentLabel string  `yaml:"consent_label"`
	ButtonText   string  `yaml:"button_text"`
	// ContactDetailsURL is forced when the login click did not navigate there.
	// Relative URLs resolve against the current page.
	ContactDetailsURL string `yaml:"contact_details_url"`
}

// Field is one labeled login input.
type Field struct {
	Label string `yaml:"label"`
	Value string `yaml:"value"`
	// PayloadKey, when set and present in the delivered payload, overrides Value
	PayloadKey string `yaml:"payload_key,omitempty"`
}

// ContactScript drives the contact-details confirmation route.
type ContactScript struct {
	ChangeText     string   `yaml:"change_text"`
	ConsentPhrases []string `yaml:"consent_phrases"`
	NextText       string   `yaml:"next_text"`
	DocumentsURL   string   `yaml:"documents_url"`
}

// DocumentsScript drives the documents-upload route.
type DocumentsScript struct {
	InputSelector string `yaml:"input_selector"`
	FileName      string `yaml:"file_name"`
	Format        string `yaml:"format"`
	MinBytes      int    `yaml:"min_bytes"`
	MinSide       int    `yaml:"min_side"`
}

// Delays are the fixed waits between steps.
type Delays struct {
	Settle      time.Duration `yaml:"settle"`
	AfterLogin  time.Duration `yaml:"after_login"`
	Step        time.Duration `yaml:"step"`
	CharDelay   time.Duration `yaml:"char_delay"`
	FieldSettle time.Duration `yaml:"field_settle"`
}

// DefaultScript returns the built-in flow for the demonstration portal.
func DefaultScript() *Script {
	return &Script{
		Routes: RoutePatterns{
			Login:          []string{"*/login", "*/login/*", "*/signin*"},
			ContactDetails: []string{"*/confirm-contact-details*", "*/contact-details*"},
			Documents:      []string{"*/documents*", "*/upload*"},
		},
		Login: LoginScript{
			FormPhrase: "Sign in to your account",
			Fields: []Field{
				{Label: "Family name", Value: "Citizen", PayloadKey: "lastName"},
				{Label: "Date of birth", Value: "01/01/1980", PayloadKey: "dateOfBirth"},
				{Label: "Reference number", Value: "DEMO-000001", PayloadKey: "referenceNumber"},
			},
			ConsentLabel:      "I agree to the terms of use",
			ButtonText:        "Log in",
			ContactDetailsURL: "/confirm-contact-details",
		},
		Contact: ContactScript{
			ChangeText: "Change contact details",
			ConsentPhrases: []string{
				"I confirm my contact details are correct",
				"I understand how my information will be used",
				"I agree to receive electronic correspondence",
				"I declare the information I have given is true",
			},
			NextText:     "Next",
			DocumentsURL: "/documents",
		},
		Documents: DocumentsScript{
			InputSelector: `input[type="file"]`,
			FileName:      "supporting-document",
			Format:        asset.FormatPNG,
			MinBytes:      200 * 1024,
			MinSide:       asset.DefaultMinSide,
		},
		Delays: Delays{
			Settle:      1500 * time.Millisecond,
			AfterLogin:  3 * time.Second,
			Step:        800 * time.Millisecond,
			CharDelay:   60 * time.Millisecond,
			FieldSettle: 200 * time.Millisecond,
		},
	}
}

// ParseScript overlays YAML onto the default script. Keys missing from data
// keep their defaults; lists replace the default list.
func ParseScript(data []byte) (*Script, error) {
	script := DefaultScript()
	if err := yaml.Unmarshal(data, script); err != nil {
		return nil, fmt.Errorf("failed to parse flow file: %w", err)
	}
	if err := script.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow file: %w", err)
	}
	return script, nil
}

// LoadScript reads a YAML flow file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	return ParseScript(data)
}

// Validate checks that every step has something to look for.
func (s *Script) Validate() error {
	if s.Login.FormPhrase == "" {
		return fmt.Errorf("login.form_phrase cannot be empty")
	}
	for i, f := range s.Login.Fields {
		if f.Label == "" {
			return fmt.Errorf("login.fields[%d]: label cannot be empty", i)
		}
	}
	if s.Contact.NextText == "" {
		return fmt.Errorf("contact.next_text cannot be empty")
	}
	for i, p := range s.Contact.ConsentPhrases {
		if p == "" {
			return fmt.Errorf("contact.consent_phrases[%d] cannot be empty", i)
		}
	}
	if s.Documents.InputSelector == "" {
		return fmt.Errorf("documents.input_selector cannot be empty")
	}
	switch s.Documents.Format {
	case "", asset.FormatPNG, asset.FormatPDF:
	default:
		return fmt.Errorf("documents.format must be %s or %s", asset.FormatPNG, asset.FormatPDF)
	}
	if _, err := NewClassifier(s.Routes); err != nil {
		return err
	}
	return nil
}
