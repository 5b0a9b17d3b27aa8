package settings

// labels are the texts shown to users. They never take part in comparisons.
var labels = map[Option]string{
	UpdateSite:       "Update the catalog at startup",
	UpdateFoundShows: "Always re-fetch opened shows",
}

// Label returns the display text of o.
func Label(o Option) string {
	if l, ok := labels[o]; ok {
		return l
	}
	return o.Key()
}
