package service

import (
	"github.com/Kestr3l/ChatRelay/internal/domain/chat"
	"github.com/Kestr3l/ChatRelay/internal/domain/run"
)

// Extract returns the final assistant text and citations from the terminal
// conversation state. Messages are expected oldest first; the most recent
// assistant-authored message wins. Text fragments are concatenated in
// encounter order, and citation annotations are collected in encounter order
// without deduplication. Pure function of its input.
func Extract(msgs []run.Message) (string, []chat.Citation) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != "assistant" {
			continue
		}

		var text string
		var citations []chat.Citation
		for _, item := range msgs[i].Content {
			text += item.Text
			for _, ann := range item.Annotations {
				citations = append(citations, chat.Citation{
					Title: ann.Title,
					URL:   ann.URL,
				})
			}
		}
		return text, citations
	}
	return "", nil
}
