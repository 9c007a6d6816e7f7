package catalog

import "strings"

const Unclassified = "other"

type keyword struct {
	match string
	value string
}

// Order matters: the first keyword found wins, so longer phrases go first.
var platformKeywords = []keyword{
	{"instagram", "instagram"},
	{"tiktok", "tiktok"},
	{"youtube", "youtube"},
	{"facebook", "facebook"},
	{"twitter", "twitter"},
	{"telegram", "telegram"},
	{"spotify", "spotify"},
	{"twitch", "twitch"},
	{"linkedin", "linkedin"},
	{"threads", "threads"},
	{"soundcloud", "soundcloud"},
	{"discord", "discord"},
	{"pinterest", "pinterest"},
	{"reddit", "reddit"},
	{" insta ", "instagram"},
	{" ig ", "instagram"},
	{" yt ", "youtube"},
	{" fb ", "facebook"},
	{"x.com", "twitter"},
}

var serviceTypeKeywords = []keyword{
	{"story views", "story_views"},
	{"reel views", "views"},
	{"live stream", "live_views"},
	{"followers", "followers"},
	{"follower", "followers"},
	{"subscribers", "subscribers"},
	{"subscriber", "subscribers"},
	{"members", "members"},
	{"likes", "likes"},
	{"like", "likes"},
	{"views", "views"},
	{"view", "views"},
	{"comments", "comments"},
	{"comment", "comments"},
	{"shares", "shares"},
	{"share", "shares"},
	{"saves", "saves"},
	{"retweets", "reposts"},
	{"reposts", "reposts"},
	{"plays", "plays"},
	{"streams", "plays"},
	{"votes", "votes"},
	{"reactions", "reactions"},
	{"watch time", "watch_time"},
}

// Classify derives the (platform, serviceType) pair pricing rules are keyed by
// from the vendor's free-text category and name. Unknown parts come back as
// Unclassified.
func Classify(category, name string) (platform, serviceType string) {
	text := " " + strings.ToLower(category+" "+name) + " "
	return find(platformKeywords, text), find(serviceTypeKeywords, text)
}

func find(keywords []keyword, text string) string {
	for _, k := range keywords {
		if strings.Contains(text, k.match) {
			return k.value
		}
	}
	return Unclassified
}
