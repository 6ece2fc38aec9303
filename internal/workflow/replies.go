package workflow

import (
	"fmt"
	"strings"

	"github.com/fieldwalk/fieldwalk/internal/checklist"
	"github.com/fieldwalk/fieldwalk/internal/identity"
	"github.com/fieldwalk/fieldwalk/internal/workorder"
)

func replyJobsList(orders []workorder.WorkOrder) string {
	if len(orders) == 0 {
		return "You have no open inspections scheduled for today."
	}
	var b strings.Builder
	b.WriteString("Today's inspections:\n")
	for _, wo := range orders {
		line := fmt.Sprintf("#%d %s", wo.Code, wo.Title)
		if wo.PropertyRef != "" {
			line += " @ " + wo.PropertyRef
		}
		if wo.Status == workorder.StatusInProgress {
			line += " (in progress)"
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("Reply \"start #<number>\" to begin.")
	return b.String()
}

func replyChecklist(wo workorder.WorkOrder, items []checklist.Item, currentItemID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Inspection #%d %s\n", wo.Code, wo.Title)
	done := 0
	for _, item := range items {
		marker := " "
		switch item.Status {
		case checklist.ItemDone:
			marker = "x"
			done++
		case checklist.ItemIssue:
			marker = "!"
			done++
		}
		cursor := "  "
		if item.ID == currentItemID {
			cursor = "> "
		}
		fmt.Fprintf(&b, "%s[%s] %d. %s\n", cursor, marker, item.Position, item.Name)
	}
	fmt.Fprintf(&b, "%d of %d items addressed.", done, len(items))
	return b.String()
}

func replyItemFocused(item checklist.Item) string {
	msg := fmt.Sprintf("Now on item %d: %s.", item.Position, item.Name)
	if item.Comment != "" {
		msg += "\nNotes so far:\n" + item.Comment
	}
	return msg
}

func replyPendingItems(pending []checklist.Item) string {
	var b strings.Builder
	b.WriteString("Can't finish yet, these items still need attention:\n")
	for _, item := range pending {
		fmt.Fprintf(&b, "%d. %s\n", item.Position, item.Name)
	}
	b.WriteString("Mark each one done or flag an issue first.")
	return b.String()
}

func replyHelp(role string) string {
	if role != identity.RoleInspector {
		return "Hi! This number handles property inspections. " +
			"If you're expecting inspection access, ask your coordinator to enable it for you."
	}
	return strings.Join([]string{
		"Here's what you can ask me:",
		"- \"my jobs\" lists today's inspections",
		"- \"start #12\" begins an inspection",
		"- \"item 3\" jumps to a checklist item",
		"- \"done\" completes the current item",
		"- \"problem: <note>\" flags an issue",
		"- send a photo to attach it to the current item",
		"- \"finish\" completes the inspection",
		"- \"cancel\" drops the current conversation",
	}, "\n")
}

const (
	msgNotInspector    = "This feature is only available to inspectors."
	msgNoActiveOrder   = "No inspection is in progress. Send \"my jobs\" to see today's list, then \"start #<number>\"."
	msgNoCurrentItem   = "No checklist item is selected. Send \"item <number>\" to pick one."
	msgWhichOrder      = "Which inspection? Reply with \"start #<number>\" using a number from your jobs list."
	msgWhichItem       = "Which item? Reply with \"item <number>\"."
	msgUnknownOrder    = "I couldn't find that inspection. Send \"my jobs\" to see your list."
	msgNotYourOrder    = "That inspection isn't assigned to you."
	msgOrderNotOpen    = "That inspection can't be started, it's already closed."
	msgUnknownItem     = "That item number doesn't exist on this checklist."
	msgCommentMissing  = "What should the note say? Reply with the comment text."
	msgMediaMissing    = "Attach a photo or document to add it to the current item."
	msgMediaNoItem     = "I saved the file, but no checklist item is selected. Send \"item <number>\" first, then resend it."
	msgMediaFailed     = "I couldn't download that file. Please try sending it again."
	msgCancelled       = "Okay, I've dropped the current conversation. Say hi whenever you need me."
	msgAlreadyComplete = "This inspection is already completed."
)
