package content

import (
	"bytes"
	"fmt"
	"html/template"
	"slices"
	"strings"
	"unicode/utf8"

	"skytalk/internal/models"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

// MaxTextLength is the longest text message accepted, in runes.
const MaxTextLength = 2000

var (
	policy   = bluemonday.UGCPolicy()
	markdown = goldmark.New()
)

// Sanitize removes unsafe HTML from the input string.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// Render converts a Markdown message body into sanitized HTML.
// Raw HTML in the body is dropped by the renderer before sanitizing.
func Render(text string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("failed to render message: %w", err)
	}
	return Sanitize(buf.String()), nil
}

// ValidateText trims text and checks it can be sent as a message.
func ValidateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: message is empty", models.ErrValidation)
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return "", fmt.Errorf("%w: message is longer than %d characters", models.ErrValidation, MaxTextLength)
	}
	return text, nil
}

// WeatherTags are the accepted values of ImagePayload.WeatherTag.
var WeatherTags = []string{"sunny", "cloudy", "rainy", "stormy", "foggy", "snowy"}

// ValidateImage trims an image payload and checks it before it is sent.
// Fields stay plain text; RenderImage escapes them for display.
func ValidateImage(image models.ImagePayload) (models.ImagePayload, error) {
	image.URL = strings.TrimSpace(image.URL)
	image.Caption = strings.TrimSpace(image.Caption)
	image.Location = strings.TrimSpace(image.Location)
	image.Temperature = strings.TrimSpace(image.Temperature)
	image.WeatherTag = strings.ToLower(strings.TrimSpace(image.WeatherTag))

	if image.URL == "" {
		return image, fmt.Errorf("%w: image reference is required", models.ErrValidation)
	}
	if utf8.RuneCountInString(image.Caption) > MaxTextLength {
		return image, fmt.Errorf("%w: caption is longer than %d characters", models.ErrValidation, MaxTextLength)
	}
	if image.WeatherTag != "" && !slices.Contains(WeatherTags, image.WeatherTag) {
		return image, fmt.Errorf("%w: unknown weather tag %q", models.ErrValidation, image.WeatherTag)
	}
	return image, nil
}

// RenderImage produces sanitized HTML for an image message. The caption
// is rendered as Markdown; the other fields are escaped.
func RenderImage(image models.ImagePayload) (string, error) {
	caption, err := Render(image.Caption)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<figure><img src="%s" alt="%s">`, Escape(image.URL), Escape(image.Caption))
	b.WriteString("<figcaption>")
	b.WriteString(caption)
	for _, field := range []string{image.WeatherTag, image.Location, image.Temperature} {
		if field != "" {
			fmt.Fprintf(&b, "<span>%s</span>", Escape(field))
		}
	}
	b.WriteString("</figcaption></figure>")

	return Sanitize(b.String()), nil
}
