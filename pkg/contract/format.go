package contract

import (
	"regexp"
	"strings"

	"github.com/missiond/missiond/pkg/models"
)

var (
	headingPattern    = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	boldPattern       = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicPattern     = regexp.MustCompile(`(?:^|[^*])\*([^*]+)\*`)
	linkPattern       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	codeFencePattern  = regexp.MustCompile("(?s)```[a-zA-Z]*\n?(.*?)```")
	excessBlankLines  = regexp.MustCompile(`\n{3,}`)
	trailingWhitespce = regexp.MustCompile(`(?m)[ \t]+$`)
)

// formatForChannel normalizes whitespace everywhere and, for chat-style
// channels, reduces markdown to the subset those surfaces render safely.
func formatForChannel(channel models.Channel, text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = trailingWhitespce.ReplaceAllString(text, "")
	text = excessBlankLines.ReplaceAllString(text, "\n\n")

	if channel.IsChat() || channel == models.ChannelInApp {
		text = toChatMarkup(channel, text)
	}

	return strings.TrimSpace(text)
}

// toChatMarkup converts full markdown into the narrow subset chat
// surfaces share: headings become bold-ish plain lines, links become
// "text (url)", fences lose their ticks. Telegram and discord disagree
// on emphasis markers, so emphasis is kept only where it survives both.
func toChatMarkup(channel models.Channel, text string) string {
	text = codeFencePattern.ReplaceAllString(text, "$1")
	text = headingPattern.ReplaceAllString(text, "$1")
	text = linkPattern.ReplaceAllString(text, "$1 ($2)")

	if channel == models.ChannelTelegram || channel == models.ChannelInApp {
		// Telegram's legacy markdown uses single asterisks for bold.
		text = boldPattern.ReplaceAllString(text, "*$1*")
	}

	if channel == models.ChannelEmail {
		text = boldPattern.ReplaceAllString(text, "$1")
		text = italicPattern.ReplaceAllStringFunc(text, func(match string) string {
			return strings.ReplaceAll(match, "*", "")
		})
	}

	return text
}
