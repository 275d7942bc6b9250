package store

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ContentPartKind is the tag of the ContentPart union (spec §3).
type ContentPartKind string

const (
	ContentPartKindText             ContentPartKind = "text"
	ContentPartKindImage             ContentPartKind = "image"
	ContentPartKindTextFilePointer   ContentPartKind = "text_file_pointer"
	ContentPartKindImageFilePointer  ContentPartKind = "image_file_pointer"
	ContentPartKindToolUse           ContentPartKind = "tool_use"
)

// ToolUseStatus is the lifecycle state of a ToolUse content part.
type ToolUseStatus string

const (
	ToolUseStatusInProgress ToolUseStatus = "in_progress"
	ToolUseStatusSuccess    ToolUseStatus = "success"
	ToolUseStatusError      ToolUseStatus = "error"
)

// ContentPart is one element of a Message's ordered content. It is a closed,
// tagged union: Text, Image, TextFilePointer, ImageFilePointer, ToolUse.
// Pointer variants are resolved to Text/Image by the prompt composer
// immediately before a provider call and are never persisted in resolved form.
type ContentPart interface {
	Kind() ContentPartKind
}

// Text is literal message text, either authored by a user or streamed from a provider.
type Text struct {
	TextValue string `json:"text"`
}

func (Text) Kind() ContentPartKind { return ContentPartKindText }

// Image is an inline, already-resolved image payload.
type Image struct {
	MIME   string `json:"mime"`
	Base64 string `json:"base64"`
}

func (Image) Kind() ContentPartKind { return ContentPartKindImage }

// TextFilePointer references a file whose extracted text is resolved just-in-time.
type TextFilePointer struct {
	FileID string `json:"file_id"`
}

func (TextFilePointer) Kind() ContentPartKind { return ContentPartKindTextFilePointer }

// ImageFilePointer references an image file; URL is a signed retrieval link,
// re-signed by regenerate_image_urls on every read.
type ImageFilePointer struct {
	FileID string `json:"file_id"`
	URL    string `json:"url"`
}

func (ImageFilePointer) Kind() ContentPartKind { return ContentPartKindImageFilePointer }

// ToolUse records one tool invocation within the accumulating assistant content.
type ToolUse struct {
	CallID   string          `json:"call_id"`
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
	Status   ToolUseStatus   `json:"status"`
	Output   string          `json:"output,omitempty"`
	Progress string          `json:"progress,omitempty"`
}

func (ToolUse) Kind() ContentPartKind { return ContentPartKindToolUse }

// contentPartEnvelope is the wire/storage shape: a kind discriminator plus the
// variant's own fields, flattened. This lets a ContentPart slice round-trip
// through encoding/json without a registry lookup beyond the kind switch below.
type contentPartEnvelope struct {
	Kind ContentPartKind `json:"kind"`

	TextValue string `json:"text,omitempty"`

	MIME   string `json:"mime,omitempty"`
	Base64 string `json:"base64,omitempty"`

	FileID string `json:"file_id,omitempty"`
	URL    string `json:"url,omitempty"`

	CallID   string          `json:"call_id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Status   ToolUseStatus   `json:"status,omitempty"`
	Output   string          `json:"output,omitempty"`
	Progress string          `json:"progress,omitempty"`
}

func newEnvelope(p ContentPart) contentPartEnvelope {
	env := contentPartEnvelope{Kind: p.Kind()}
	switch v := p.(type) {
	case Text:
		env.TextValue = v.TextValue
	case Image:
		env.MIME, env.Base64 = v.MIME, v.Base64
	case TextFilePointer:
		env.FileID = v.FileID
	case ImageFilePointer:
		env.FileID, env.URL = v.FileID, v.URL
	case ToolUse:
		env.CallID, env.Name, env.Input = v.CallID, v.Name, v.Input
		env.Status, env.Output, env.Progress = v.Status, v.Output, v.Progress
	}
	return env
}

func (env contentPartEnvelope) toPart() (ContentPart, error) {
	switch env.Kind {
	case ContentPartKindText:
		return Text{TextValue: env.TextValue}, nil
	case ContentPartKindImage:
		return Image{MIME: env.MIME, Base64: env.Base64}, nil
	case ContentPartKindTextFilePointer:
		return TextFilePointer{FileID: env.FileID}, nil
	case ContentPartKindImageFilePointer:
		return ImageFilePointer{FileID: env.FileID, URL: env.URL}, nil
	case ContentPartKindToolUse:
		return ToolUse{
			CallID: env.CallID, Name: env.Name, Input: env.Input,
			Status: env.Status, Output: env.Output, Progress: env.Progress,
		}, nil
	default:
		return nil, errors.Errorf("unknown content part kind %q", env.Kind)
	}
}

// ContentParts is the persisted/wire representation of a Message's ordered content.
type ContentParts []ContentPart

func (parts ContentParts) MarshalJSON() ([]byte, error) {
	envelopes := make([]contentPartEnvelope, len(parts))
	for i, p := range parts {
		envelopes[i] = newEnvelope(p)
	}
	return json.Marshal(envelopes)
}

func (parts *ContentParts) UnmarshalJSON(data []byte) error {
	var envelopes []contentPartEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return errors.Wrap(err, "unmarshal content parts")
	}
	out := make(ContentParts, len(envelopes))
	for i, env := range envelopes {
		p, err := env.toPart()
		if err != nil {
			return err
		}
		out[i] = p
	}
	*parts = out
	return nil
}
