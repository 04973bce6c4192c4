package push

import (
	"fmt"

	"golang.org/x/text/language"

	"github.com/dukerupert/nudge/internal/model"
)

// Action is a notification button handled by the service worker.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Message is the JSON payload delivered to the service worker.
type Message struct {
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Type    string         `json:"type"`
	URL     string         `json:"url,omitempty"`
	Tag     string         `json:"tag,omitempty"`
	Data    map[string]any `json:"data"`
	Actions []Action       `json:"actions"`
}

type catalog struct {
	dailyTitle    string
	dailyOne      string
	dailyMany     string // %d
	dueTitle      string // %s
	dueBody       string // %d
	reminderTitle string // %s
	reminderBody  string // %d
	actionDone    string
	actionDismiss string
	testTitle     string
	testBody      string
}

// Order matters: the first tag is the fallback.
var supported = []language.Tag{
	language.English,
	language.Spanish,
	language.MustParse("gl"),
}

var matcher = language.NewMatcher(supported)

var catalogs = []catalog{
	{
		dailyTitle:    "Nudge: tasks for today",
		dailyOne:      "You have 1 pending task today.",
		dailyMany:     "You have %d pending tasks today.",
		dueTitle:      "Time for: %s",
		dueBody:       "Interval of %dh reached.",
		reminderTitle: "Still pending: %s",
		reminderBody:  "Overdue by %dh.",
		actionDone:    "Mark as done",
		actionDismiss: "Dismiss",
		testTitle:     "Nudge: test notification",
		testBody:      "If you see this, push notifications are working!",
	},
	{
		dailyTitle:    "Nudge: tareas para hoy",
		dailyOne:      "Tienes 1 tarea pendiente hoy.",
		dailyMany:     "Tienes %d tareas pendientes hoy.",
		dueTitle:      "Pendiente: %s",
		dueBody:       "Intervalo de %dh alcanzado.",
		reminderTitle: "Sigue pendiente: %s",
		reminderBody:  "Lleva %dh de retraso.",
		actionDone:    "Marcar como hecho",
		actionDismiss: "Ignorar",
		testTitle:     "Nudge: notificación de prueba",
		testBody:      "Si ves esto, ¡las notificaciones push funcionan!",
	},
	{
		dailyTitle:    "Nudge: tarefas para hoxe",
		dailyOne:      "Tes 1 tarefa pendente hoxe.",
		dailyMany:     "Tes %d tarefas pendentes hoxe.",
		dueTitle:      "Pendente: %s",
		dueBody:       "Intervalo de %dh alcanzado.",
		reminderTitle: "Segue pendente: %s",
		reminderBody:  "Leva %dh de atraso.",
		actionDone:    "Marcar como feito",
		actionDismiss: "Ignorar",
		testTitle:     "Nudge: notificación de proba",
		testBody:      "Se ves isto, as notificacións push funcionan!",
	},
}

// Language returns the supported language that best matches code (a BCP 47
// tag such as "es" or "gl-ES"). Unknown codes fall back to English.
func Language(code string) language.Tag {
	_, idx, _ := matcher.Match(language.Make(code))
	return supported[idx]
}

func lookup(code string) catalog {
	_, idx, _ := matcher.Match(language.Make(code))
	return catalogs[idx]
}

func (c catalog) actions() []Action {
	return []Action{
		{Action: "mark-done", Title: c.actionDone},
		{Action: "dismiss", Title: c.actionDismiss},
	}
}

// DailyDigestMessage summarises how many routines are due today.
func DailyDigestMessage(lang string, count int) Message {
	c := lookup(lang)
	body := c.dailyOne
	if count != 1 {
		body = fmt.Sprintf(c.dailyMany, count)
	}
	return Message{
		Title:   c.dailyTitle,
		Body:    body,
		Type:    model.NotifTypeDailyDigest,
		URL:     "/",
		Tag:     "daily-digest",
		Data:    map[string]any{"count": count},
		Actions: c.actions(),
	}
}

// DueMessage announces that a routine became due. The routine's description,
// when set, is used as the body.
func DueMessage(lang string, r model.Routine) Message {
	c := lookup(lang)
	body := r.Description
	if body == "" {
		body = fmt.Sprintf(c.dueBody, r.IntervalHours)
	}
	return Message{
		Title:   fmt.Sprintf(c.dueTitle, r.Name),
		Body:    body,
		Type:    model.NotifTypeDue,
		URL:     fmt.Sprintf("/routines/%d", r.ID),
		Tag:     fmt.Sprintf("routine-%d", r.ID),
		Data:    map[string]any{"routine_id": r.ID},
		Actions: c.actions(),
	}
}

// ReminderMessage nags about a routine that is still overdue.
func ReminderMessage(lang string, r model.Routine, hoursOverdue int) Message {
	c := lookup(lang)
	return Message{
		Title:   fmt.Sprintf(c.reminderTitle, r.Name),
		Body:    fmt.Sprintf(c.reminderBody, hoursOverdue),
		Type:    model.NotifTypeReminder,
		URL:     fmt.Sprintf("/routines/%d", r.ID),
		Tag:     fmt.Sprintf("routine-%d", r.ID),
		Data:    map[string]any{"routine_id": r.ID, "hours_overdue": hoursOverdue},
		Actions: c.actions(),
	}
}

// SelfTestMessage confirms that a device receives notifications.
func SelfTestMessage(lang string) Message {
	c := lookup(lang)
	return Message{
		Title:   c.testTitle,
		Body:    c.testBody,
		Type:    model.NotifTypeTest,
		Data:    map[string]any{},
		Actions: []Action{},
	}
}
