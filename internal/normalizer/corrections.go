package normalizer

// phoneticCorrections maps romanized renderings of English loanwords (spoken
// in English, transcribed in Devanagari) and common spelling drift back to the
// canonical token. Values are never keys, so one pass is a fixed point.
var phoneticCorrections = map[string]string{
	// swap, history
	"svata": "swap", "svaap": "swap", "svap": "swap", "svaad": "swap",
	"swaad": "swap", "svaada": "swap", "swaada": "swap", "swaap": "swap",
	"histree": "history", "histaree": "history", "histri": "history",
	"hishtree": "history", "hishtaree": "history",

	// dsk
	"deeesake": "dsk", "deeeske": "dsk", "deesk": "dsk", "deesake": "dsk",

	// station, nearest, battery
	"steshana": "station", "steshan": "station", "steshna": "station",
	"stesan": "station", "stesana": "station",
	"neresta": "nearest", "neerest": "nearest", "niarest": "nearest",
	"niyaresta": "nearest", "niyarest": "nearest",
	"baitaree": "battery", "baitree": "battery", "baitri": "battery",
	"betaree": "battery", "betree": "battery", "batree": "battery",
	"baataree": "battery",

	// subscription, plans, billing
	"sabsakripshana": "subscription", "sabskripshan": "subscription",
	"sabsakripsan": "subscription",
	"plaina": "plan", "plaana": "plan", "plaan": "plan",
	"invoisa": "invoice", "invois": "invoice", "invoica": "invoice",
	"riplesamenta": "replacement",

	// location and question words
	"lokeshana": "location", "lokeshan": "location",
	"veyara": "where", "vheyara": "where",
	"vhaata": "what", "whata": "what",
	"isa": "is", "da": "the", "phroma": "from", "frama": "from",
	"araaunda": "around", "araunda": "around", "mee": "me",

	// verbs
	"cheka": "check", "chek": "check",
	"dikhaao": "dikhao", "dikha": "dikhao", "dikhaaen": "dikhao",
	"dikhaen": "dikhao", "dikhaiye": "dikhao",
	"sho": "show", "shoa": "show",
	"bataa": "batao", "bataao": "batao", "batana": "batao", "bataaen": "batao",
	"bataen": "batao", "bataiye": "batao", "bataiyee": "batao",
	"jaananaa": "jaanna", "jaanana": "jaanna", "jaanaa": "jaana",

	// common words
	"sakate": "sakte", "sakata": "sakta", "sakatee": "sakti",
	"karanaa": "karna", "karana": "karna",
	"dekhana": "dekhna", "dekhanaa": "dekhna",
	"men": "mein", "aapa": "aap",
	"meree": "meri", "meera": "mera", "meraa": "mera", "kyaa": "kya",

	// leave, availability, service
	"leeva": "leave", "leev": "leave",
	"chhuttee": "chutti", "chuttee": "chutti",
	"availebilitee": "availability", "availabiliti": "availability",
	"eveilebal": "available", "eveilebala": "available",
	"sarvisa": "service", "sarvis": "service",

	// number, status, renew, price, cadence
	"nambara": "number", "nambar": "number",
	"stetasa": "status", "stetas": "status",
	"rinyu": "renew", "rinyua": "renew", "rinyoo": "renew",
	"praisa": "price", "prais": "price",
	"praisinga": "pricing", "praising": "pricing",
	"manthalee": "monthly", "manthlee": "monthly",
	"weekalee": "weekly", "weeklee": "weekly",
	"deilee": "daily", "dailee": "daily",
}

// domainCorrections rewrites multi-word phrases to the vocabulary the
// dialogue engine is trained on. Keys and values are lower case.
var domainCorrections = map[string]string{
	// brand and service nouns
	"betri smart": "battery smart", "battery start": "battery smart",
	"bettery smart": "battery smart", "batri smart": "battery smart",
	"battrey smart": "battery smart",
	"swapping station": "swap station", "swap stasan": "swap station",
	"swap steshan": "swap station", "swop station": "swap station",
	"betri swap": "battery swap", "battery swop": "battery swap",
	"chargin station": "charging station", "charge station": "charging station",
	"dee es ke": "dsk",

	// plans
	"subscripsan": "subscription", "subscribtion": "subscription",
	"suscription": "subscription", "monthli plan": "monthly plan",

	// locations
	"nerest station": "nearest station", "neerest station": "nearest station",
	"near station": "nearest station",

	// hinglish phrasing
	"kaha hai": "kahan hai", "kaha he": "kahan hai", "kahan he": "kahan hai",
	"kahaan hai": "kahan hai",
	"bata do": "batao", "batado": "batao",
	"dikha do": "dikhao", "dikhado": "dikhao",
	"chaiye": "chahiye", "chahie": "chahiye", "kitnaa": "kitna",
	"bhaya": "bhaiya", "namasthe": "namaste", "namastay": "namaste",
	"dhanyavaad": "dhanyawad", "nhi": "nahi", "nahin": "nahi",
	"thik hai": "theek hai",

	// cities
	"dilli": "delhi", "new delhi": "delhi", "bombay": "mumbai",
	"bengaluru": "bangalore", "banglore": "bangalore",
	"hydrabad": "hyderabad", "madras": "chennai", "calcutta": "kolkata",
	"poona": "pune", "gurugram": "gurgaon",
}
