package storage

import "questbot/internal/quest"

// Catalog is a set of categories and their tasks used for first-run seeding.
type Catalog struct {
	Categories []CatalogCategory
	// InitialStatus is recorded for every seeded task.
	InitialStatus quest.LastStatus
}

type CatalogCategory struct {
	Category quest.Category
	Tasks    []quest.Task
}

func task(name, desc string, cooldown, active int) quest.Task {
	return quest.Task{Name: name, Description: desc, CooldownMinutes: cooldown, ActiveDurationMinutes: active, Active: true}
}

func category(name string, kind quest.Kind, tasks ...quest.Task) CatalogCategory {
	return CatalogCategory{
		Category: quest.Category{Name: name, Kind: kind, Active: true},
		Tasks:    tasks,
	}
}

// DefaultCatalog is the stock game catalogue.
func DefaultCatalog() Catalog {
	return Catalog{
		InitialStatus: quest.StatusAvailable,
		Categories: []CatalogCategory{
			category("Daily Quests", quest.KindDaily,
				task("Mystras Daily Quest", "Mystras daily quest", 0, 0),
				task("Battle Pass Daily", "Battle Pass daily quest", 0, 0),
				task("Guild Daily Quest", "Guild daily quest", 0, 0),
			),
			category("Weekly Quests", quest.KindWeekly,
				task("Battle Pass Weekly", "Battle Pass weekly quest", 0, 0),
				task("Guild Weekly Quest", "Guild weekly quest", 0, 0),
			),
			category("Altars", quest.KindCooldown,
				task("Dragon Altar", "24h cooldown", 1440, 0),
				task("Dead Altar", "24h cooldown", 1440, 0),
				task("Fire Altar", "24h cooldown", 1440, 0),
			),
			category("Repeatable Quests", quest.KindCooldown,
				task("Mystras Reputation", "Mystras reputation quest", 180, 0),
				task("Farming Quest", "Farming quest", 60, 0),
			),
			category("Instances", quest.KindInstance,
				task("Zigred Hive", "3d cooldown, open 6h", 4320, 360),
				task("Guaryld Korr", "4d cooldown, open 12h", 5760, 720),
				task("Kargath Expedition", "2d cooldown, open 4h", 2880, 240),
			),
			category("Farming Instances", quest.KindInstance,
				task("Gold Farm Instance", "Gold farming", 1440, 120),
				task("Material Farm Instance", "Material farming", 720, 60),
			),
			category("Events", quest.KindCooldown,
				task("World Boss", "World boss", 360, 0),
				task("Arena Season", "Arena season", 1440, 0),
			),
		},
	}
}
