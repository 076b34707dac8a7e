package eventbus

// Event types published by questbot components.
const (
	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskSkipped  = "task.skipped"
	TaskDropped  = "task.dropped"

	NotifierQueued  = "notifier.queued"
	NotifierSent    = "notifier.sent"
	NotifierFailed  = "notifier.failed"
	NotifierDeduped = "notifier.deduped"
	NotifierDropped = "notifier.dropped"

	QuestReady       = "quest.ready"
	QuestPreNotified = "quest.pre_notified"
	QuestRefreshed   = "quest.refreshed"
	QuestCompleted   = "quest.completed"
	QuestSkipped     = "quest.skipped"
	QuestSnoozed     = "quest.snoozed"
	QuestReset       = "quest.reset"
	TrackerPaused    = "tracker.paused"
	TrackerResumed   = "tracker.resumed"

	ScheduleFired = "schedule.fired"

	ConfigReloaded = "config.reloaded"
)
