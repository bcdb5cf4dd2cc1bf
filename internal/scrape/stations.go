package scrape

// DefaultStations is the catalog seeded into an empty database.
func DefaultStations() []Station {
	return []Station{
		{ID: "us99", Name: "US 99.5", URL: "https://www.iheart.com/live/us-99-10819/", Genre: "Country", Market: "Chicago"},
		{ID: "wls", Name: "94.7 WLS", URL: "https://www.iheart.com/live/947-wls-5367/", Genre: "Classic Hits", Market: "Chicago"},
		{ID: "rock955", Name: "Rock 95.5", URL: "https://www.iheart.com/live/rock-955-857/", Genre: "Rock", Market: "Chicago"},
		{ID: "q101", Name: "Q101", URL: "https://www.iheart.com/live/q101-6468/", Genre: "Alternative", Market: "Chicago"},
		{ID: "b96", Name: "B96", URL: "https://www.iheart.com/live/b96-353/", Genre: "Top 40", Market: "Chicago"},
		{ID: "wlite", Name: "93.9 Lite FM", URL: "https://www.iheart.com/live/939-lite-fm-853/", Genre: "Adult Contemporary", Market: "Chicago"},
		{ID: "wiil", Name: "95 WIIL Rock", URL: "https://www.iheart.com/live/95-wiil-rock-7716/", Genre: "Rock", Market: "Chicago"},
		{ID: "big955", Name: "Big 95.5", URL: "https://www.iheart.com/live/big-955-6203/", Genre: "Country", Market: "Chicago"},
		{ID: "iheart70s", Name: "iHeart70s", URL: "https://www.iheart.com/live/iheart70s-4410/", Genre: "70s", Market: "National"},
		{ID: "iheart80s", Name: "iHeart80s", URL: "https://www.iheart.com/live/iheart80s-4411/", Genre: "80s", Market: "National"},
		{ID: "iheart90s", Name: "iHeart90s", URL: "https://www.iheart.com/live/iheart90s-4412/", Genre: "90s", Market: "National"},
	}
}
