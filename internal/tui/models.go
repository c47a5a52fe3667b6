package tui

type View int

const (
	ViewLogin View = iota
	ViewFeed
	ViewReader
	ViewSearch
	ViewProfile
)

func (v View) String() string {
	switch v {
	case ViewLogin:
		return "login"
	case ViewFeed:
		return "feed"
	case ViewReader:
		return "reader"
	case ViewSearch:
		return "search"
	case ViewProfile:
		return "profile"
	default:
		return "unknown"
	}
}
