package tracker

import (
	"context"
	"fmt"

	"questbot/internal/alert"
	"questbot/internal/gametime"
	"questbot/internal/quest"
)

// Overview is a read-only snapshot of every tracked task.
type Overview struct {
	Now      gametime.Timestamp
	Settings alert.Settings
	Items    []quest.Evaluated
	Counts   map[quest.State]int
}

// Ready counts tasks in a ready state.
func (o Overview) Ready() int { return o.Counts[quest.Available] + o.Counts[quest.InstanceOpen] }

// ByKind filters items to one reset kind, keeping order.
func (o Overview) ByKind(kind quest.Kind) []quest.Evaluated {
	var out []quest.Evaluated
	for _, it := range o.Items {
		if it.Category.Kind == kind {
			out = append(out, it)
		}
	}
	return out
}

// StatusOf evaluates a single task now.
func (t *Tracker) StatusOf(ctx context.Context, id int64) (quest.Evaluated, error) {
	return t.loadOne(ctx, id)
}

// StatusByName resolves a task by case-insensitive name and evaluates it.
func (t *Tracker) StatusByName(ctx context.Context, name string) (quest.Evaluated, error) {
	v, err := t.store.FindTaskByName(ctx, name)
	if err != nil {
		return quest.Evaluated{}, err
	}
	return t.evaluate([]quest.View{v}, t.clock.Now())[0], nil
}

func (t *Tracker) Overview(ctx context.Context) (Overview, error) {
	s, err := t.Settings(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("read settings: %w", err)
	}
	items, now, err := t.load(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("list tasks: %w", err)
	}
	o := Overview{Now: now, Settings: s, Items: items, Counts: map[quest.State]int{}}
	for _, it := range items {
		o.Counts[it.Status.State]++
	}
	return o, nil
}

// TasksNeedingNotification lists tasks the next cycle would notify.
func (t *Tracker) TasksNeedingNotification(ctx context.Context) ([]quest.Evaluated, error) {
	s, err := t.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	items, now, err := t.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return alert.SelectReady(items, s, now).Notify, nil
}

// TasksNeedingPreNotification lists tasks inside their pre-notify window.
func (t *Tracker) TasksNeedingPreNotification(ctx context.Context) ([]quest.Evaluated, error) {
	items, now, err := t.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return alert.SelectPre(items, now), nil
}

// ReadyTasks lists ready tasks of one category, or of all categories when
// categoryID is 0.
func (t *Tracker) ReadyTasks(ctx context.Context, categoryID int64) ([]quest.Evaluated, error) {
	items, _, err := t.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var out []quest.Evaluated
	for _, it := range items {
		if categoryID != 0 && it.Category.ID != categoryID {
			continue
		}
		if it.Status.State.Ready() {
			out = append(out, it)
		}
	}
	return out, nil
}
