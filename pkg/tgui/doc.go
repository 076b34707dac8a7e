// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders
//   - Callback data helpers ("scope:action:payload")
//   - A message builder that is safe for ParseMode="HTML"
package tgui
