package tui

// Keybinding constants
const (
	KeyApprove = "a"
	KeyReject  = "r"
	KeyDiff    = "d"
	KeyTab     = "tab"
	KeySubmit  = "enter"
	KeyCancel  = "esc"
	KeyCtrlC   = "ctrl+c"
	KeyUp      = "up"
	KeyDown    = "down"
	KeyJ       = "j"
	KeyK       = "k"
)

// HelpView returns the one-line help bar for the checkpoint screen.
func HelpView(feedback, hasDiff bool) string {
	if feedback {
		return StyleHelp.Render("enter: send rejection | esc: back | ctrl+c: abort run")
	}
	help := "a: approve | r: reject with feedback | j/k: scroll"
	if hasDiff {
		help += " | d: toggle diff"
	}
	return StyleHelp.Render(help + " | ctrl+c: abort run")
}
