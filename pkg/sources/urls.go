package sources

const (
	IPAPIURL = "http://ip-api.com/json/%s"
	IPifyURL = "https://api.ipify.org?format=json"

	// GeoLiteCityURL is a mirror of the free MaxMind city database.
	GeoLiteCityURL = "https://github.com/P3TERX/GeoLite.mmdb/raw/download/GeoLite2-City.mmdb"
)
