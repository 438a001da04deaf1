package allergen

import (
	"regexp"
	"sort"
)

// ID is one of the 28 regulated allergen identifiers.
type ID string

const (
	Egg       ID = "egg"
	Milk      ID = "milk"
	Wheat     ID = "wheat"
	Shrimp    ID = "shrimp"
	Crab      ID = "crab"
	Buckwheat ID = "buckwheat"
	Peanut    ID = "peanut"
	Walnut    ID = "walnut"

	Almond    ID = "almond"
	Abalone   ID = "abalone"
	Squid     ID = "squid"
	SalmonRoe ID = "salmon_roe"
	Orange    ID = "orange"
	Cashew    ID = "cashew"
	Kiwi      ID = "kiwi"
	Beef      ID = "beef"
	Sesame    ID = "sesame"
	Salmon    ID = "salmon"
	Mackerel  ID = "mackerel"
	Soy       ID = "soy"
	Chicken   ID = "chicken"
	Banana    ID = "banana"
	Pork      ID = "pork"
	Peach     ID = "peach"
	Yam       ID = "yam"
	Apple     ID = "apple"
	Gelatin   ID = "gelatin"
	Macadamia ID = "macadamia"
)

// Tier is the labeling-regulation group of an allergen.
type Tier string

const (
	TierMandatory   Tier = "mandatory"   // specified raw materials, labeling required
	TierRecommended Tier = "recommended" // quasi-specified, labeling recommended
)

// Allergen is one row of the vocabulary table.
type Allergen struct {
	ID      ID
	Name    string // Japanese display name
	NameEN  string
	Tier    Tier
	Pattern *regexp.Regexp
}

type entry struct {
	id      ID
	name    string
	nameEN  string
	tier    Tier
	pattern string
}

// Order matters: it is the CSV column order consumed by downstream spreadsheets.
var table = []entry{
	{Egg, "卵", "Egg", TierMandatory, `卵|たまご|タマゴ|玉子|eggs?`},
	{Milk, "乳", "Milk", TierMandatory, `牛乳|乳|ミルク|milk|dairy`},
	{Wheat, "小麦", "Wheat", TierMandatory, `小麦|こむぎ|コムギ|wheat|gluten`},
	{Shrimp, "えび", "Shrimp", TierMandatory, `えび|エビ|海老|shrimp|prawn`},
	{Crab, "かに", "Crab", TierMandatory, `かに|カニ|蟹|crab`},
	{Buckwheat, "そば", "Buckwheat", TierMandatory, `蕎麦|そば|ソバ|buckwheat`},
	{Peanut, "落花生", "Peanut", TierMandatory, `落花生|らっかせい|ピーナッツ|peanuts?`},
	{Walnut, "くるみ", "Walnut", TierMandatory, `くるみ|クルミ|胡桃|walnuts?`},

	{Almond, "アーモンド", "Almond", TierRecommended, `アーモンド|almonds?`},
	{Abalone, "あわび", "Abalone", TierRecommended, `あわび|アワビ|鮑|abalone`},
	{Squid, "いか", "Squid", TierRecommended, `いか|イカ|烏賊|squid`},
	{SalmonRoe, "いくら", "Salmon Roe", TierRecommended, `いくら|イクラ|salmon roe`},
	{Orange, "オレンジ", "Orange", TierRecommended, `オレンジ|orange`},
	{Cashew, "カシューナッツ", "Cashew", TierRecommended, `カシューナッツ|カシュー|cashew`},
	{Kiwi, "キウイフルーツ", "Kiwi", TierRecommended, `キウイフルーツ|キウイ|kiwi`},
	{Beef, "牛肉", "Beef", TierRecommended, `牛肉|ぎゅうにく|ビーフ|beef`},
	{Sesame, "ごま", "Sesame", TierRecommended, `ごま|ゴマ|胡麻|sesame`},
	{Salmon, "さけ", "Salmon", TierRecommended, `さけ|サケ|鮭|サーモン|salmon`},
	{Mackerel, "さば", "Mackerel", TierRecommended, `さば|サバ|鯖|mackerel`},
	{Soy, "大豆", "Soybean", TierRecommended, `大豆|だいず|ダイズ|soybeans?|soy`},
	{Chicken, "鶏肉", "Chicken", TierRecommended, `鶏肉|とりにく|チキン|chicken`},
	{Banana, "バナナ", "Banana", TierRecommended, `バナナ|banana`},
	{Pork, "豚肉", "Pork", TierRecommended, `豚肉|ぶたにく|ポーク|pork`},
	{Peach, "もも", "Peach", TierRecommended, `もも|モモ|桃|peach`},
	{Yam, "やまいも", "Yam", TierRecommended, `やまいも|ヤマイモ|山芋|長芋|yam`},
	{Apple, "りんご", "Apple", TierRecommended, `りんご|リンゴ|林檎|apple`},
	{Gelatin, "ゼラチン", "Gelatin", TierRecommended, `ゼラチン|gelatine?`},
	{Macadamia, "マカダミアナッツ", "Macadamia", TierRecommended, `マカダミアナッツ|マカデミアナッツ|マカダミア|macadamia`},
}

var (
	vocabulary []Allergen
	byID       map[ID]int
)

func init() {
	vocabulary = make([]Allergen, len(table))
	byID = make(map[ID]int, len(table))
	for i, e := range table {
		vocabulary[i] = Allergen{
			ID:      e.id,
			Name:    e.name,
			NameEN:  e.nameEN,
			Tier:    e.tier,
			Pattern: regexp.MustCompile(`(?i)(?:` + e.pattern + `)`),
		}
		byID[e.id] = i
	}
}

// All returns the vocabulary in its fixed order.
func All() []Allergen {
	out := make([]Allergen, len(vocabulary))
	copy(out, vocabulary)
	return out
}

// IDs returns the 28 ids in fixed order.
func IDs() []ID {
	out := make([]ID, len(vocabulary))
	for i, a := range vocabulary {
		out[i] = a.ID
	}
	return out
}

// Lookup finds an allergen by id.
func Lookup(id ID) (Allergen, bool) {
	i, ok := byID[id]
	if !ok {
		return Allergen{}, false
	}
	return vocabulary[i], true
}

// Index is the position of id in the fixed order, or -1.
func Index(id ID) int {
	if i, ok := byID[id]; ok {
		return i
	}
	return -1
}

// ByTier filters the vocabulary to one regulatory tier.
func ByTier(t Tier) []Allergen {
	var out []Allergen
	for _, a := range vocabulary {
		if a.Tier == t {
			out = append(out, a)
		}
	}
	return out
}

// SortIDs orders ids by vocabulary position in place.
func SortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return Index(ids[i]) < Index(ids[j]) })
}
