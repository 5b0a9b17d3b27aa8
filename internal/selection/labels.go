package selection

var labels = map[Mode]string{
	One:   "Download one episode",
	Some:  "Download some episodes",
	Range: "Download a range of episodes",
	All:   "Download all episodes",
}

// Label returns the display text of m.
func Label(m Mode) string {
	if l, ok := labels[m]; ok {
		return l
	}
	return m.Code()
}
