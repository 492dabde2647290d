package refslice

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strings"

	"go.uber.org/zap"
)

// anonymizationPatterns maps a substring found in a column name to the
// synthetic-value category used to regenerate it, ported verbatim from
// _examples/original_source/src/dbslice/utils/anonymizer.py
// _DEFAULT_ANONYMIZATION_PATTERNS (the Faker method names there become
// category tags for the hand-rolled generators below, since no
// Faker-equivalent library exists anywhere in the retrieved Go corpus —
// see DESIGN.md for the stdlib-only justification).
var anonymizationPatterns = map[string]string{
	"email":          "email",
	"phone":          "phone_number",
	"mobile":         "phone_number",
	"fax":            "phone_number",
	"landline":       "phone_number",
	"name":           "name",
	"first_name":     "first_name",
	"last_name":      "last_name",
	"firstname":      "first_name",
	"lastname":       "last_name",
	"full_name":      "name",
	"fullname":       "name",
	"address":        "address",
	"street":         "street_address",
	"city":           "city",
	"zip":            "zipcode",
	"zipcode":        "zipcode",
	"postal":         "zipcode",
	"ssn":            "ssn",
	"credit_card":    "credit_card_number",
	"card_number":    "credit_card_number",
	"card":           "credit_card_number",
	"passport":       "passport_number",
	"driver_license": "driver_license",
	"driverlicense":  "driver_license",
	"license_number": "driver_license",
	"iban":           "iban",
	"bank_account":   "bban",
	"account_number": "bban",
	"routing_number": "routing_number",
	"swift":          "swift",
	"ip_address":     "ipv4",
	"ipaddress":      "ipv4",
	"ip":             "ipv4",
	"ipv6":           "ipv6",
	"mac_address":    "mac_address",
	"username":       "user_name",
	"user_name":      "user_name",
	"dob":            "date_of_birth",
	"date_of_birth":  "date_of_birth",
	"birthdate":      "date_of_birth",
	"birth_date":     "date_of_birth",
	"company":        "company",
	"organization":   "company",
	"employer":       "company",
	"job_title":      "job",
	"salary":         "random_int",
	"compensation":   "random_int",
	"wage":           "random_int",
	"url":            "url",
	"website":        "url",
	"domain":         "domain_name",
}

// anonymizationPatternOrder preserves the dict-iteration order of the
// Python source's first-match semantics for get_faker_method — Go maps
// don't iterate deterministically, so pattern matching below walks this
// slice instead of ranging the map.
var anonymizationPatternOrder = buildPatternOrder()

func buildPatternOrder() []string {
	order := make([]string, 0, len(anonymizationPatterns))
	for _, p := range []string{
		"email", "phone", "mobile", "fax", "landline",
		"name", "first_name", "last_name", "firstname", "lastname", "full_name", "fullname",
		"address", "street", "city", "zip", "zipcode", "postal",
		"ssn", "credit_card", "card_number", "card", "passport",
		"driver_license", "driverlicense", "license_number",
		"iban", "bank_account", "account_number", "routing_number", "swift",
		"ip_address", "ipaddress", "ip", "ipv6", "mac_address",
		"username", "user_name",
		"dob", "date_of_birth", "birthdate", "birth_date",
		"company", "organization", "employer", "job_title", "salary", "compensation", "wage",
		"url", "website", "domain",
	} {
		order = append(order, p)
	}
	return order
}

// securityNullPatterns lists substrings that cause a column to be NULLed
// rather than anonymized, ported verbatim from _SECURITY_NULL_PATTERNS.
var securityNullPatterns = []string{
	"password", "passwd", "pwd", "hash", "salt",
	"token", "secret", "api_key", "apikey", "access_token", "refresh_token",
	"oauth_token", "csrf_token", "session_id",
	"private_key", "privatekey", "public_key", "publickey",
	"encryption_key", "decrypt_key",
	"nonce", "signature", "certificate", "client_secret", "oauth_secret",
}

// DeterministicAnonymizer anonymizes values deterministically: the same
// input always produces the same output, preserving referential
// integrity when a value repeats across rows or tables. Ported from
// DeterministicAnonymizer in anonymizer.py; Faker is replaced with
// hand-rolled category generators seeded from SHA-256(seed:column:value).
type DeterministicAnonymizer struct {
	globalSeed     string
	schema         *SchemaGraph
	cache          map[anonCacheKey]any
	redactFields   map[string]bool
	fkColumnsCache map[string]map[string]bool
	logger         *zap.SugaredLogger
	cacheHits      int64
	cacheLookups   int64
}

type anonCacheKey struct {
	value  string
	column string
}

// NewDeterministicAnonymizer constructs an anonymizer bound to an
// optional schema (for FK-column exemption).
func NewDeterministicAnonymizer(seed string, schema *SchemaGraph) *DeterministicAnonymizer {
	if seed == "" {
		seed = defaultAnonymizationSeed
	}
	truncated := seed
	if len(truncated) > 20 {
		truncated = truncated[:20]
	}
	logger := zap.S()
	logger.Infow("initializing anonymizer", "seed_prefix", truncated+"...")
	return &DeterministicAnonymizer{
		globalSeed:     seed,
		schema:         schema,
		cache:          make(map[anonCacheKey]any),
		redactFields:   make(map[string]bool),
		fkColumnsCache: make(map[string]map[string]bool),
		logger:         logger,
	}
}

// Configure sets additional "table.column" fields to force-redact.
func (a *DeterministicAnonymizer) Configure(redactFields []string) {
	a.redactFields = make(map[string]bool, len(redactFields))
	for _, f := range redactFields {
		a.redactFields[f] = true
	}
	a.logger.Infow("anonymizer configured", "redact_field_count", len(redactFields))
}

func (a *DeterministicAnonymizer) isForeignKeyColumn(table, column string) bool {
	if a.schema == nil {
		return false
	}
	fkCols, ok := a.fkColumnsCache[table]
	if !ok {
		fkCols = make(map[string]bool)
		if t := a.schema.GetTable(table); t != nil {
			for _, fk := range t.ForeignKeys {
				for _, c := range fk.SourceColumns {
					fkCols[c] = true
				}
			}
		}
		a.fkColumnsCache[table] = fkCols
	}
	return fkCols[column]
}

// ShouldAnonymize reports whether a column should be anonymized. Foreign
// key columns are never anonymized, to preserve referential integrity.
func (a *DeterministicAnonymizer) ShouldAnonymize(table, column string) bool {
	if a.isForeignKeyColumn(table, column) {
		return false
	}
	if a.redactFields[table+"."+column] {
		return true
	}
	colLower := strings.ToLower(column)
	for _, pattern := range anonymizationPatternOrder {
		if strings.Contains(colLower, pattern) {
			return true
		}
	}
	return false
}

// ShouldNull reports whether a column is security-sensitive enough to be
// NULLed outright rather than anonymized.
func (a *DeterministicAnonymizer) ShouldNull(table, column string) bool {
	colLower := strings.ToLower(column)
	for _, pattern := range securityNullPatterns {
		if strings.Contains(colLower, pattern) {
			return true
		}
	}
	return false
}

// category returns the synthetic-value generator category for a column,
// defaulting to a generic random string when no pattern matches.
func category(column string) string {
	colLower := strings.ToLower(column)
	for _, pattern := range anonymizationPatternOrder {
		if strings.Contains(colLower, pattern) {
			return anonymizationPatterns[pattern]
		}
	}
	return "pystr"
}

// seededRand derives a deterministic math/rand source from
// SHA-256(global_seed:column:value), mirroring the Python source's
// int.from_bytes(sha256(...)[:8], "big") Faker seed.
func seededRand(globalSeed, column string, value any) *rand.Rand {
	hashInput := fmt.Sprintf("%s:%s:%v", globalSeed, column, value)
	sum := sha256.Sum256([]byte(hashInput))
	seedInt := binary.BigEndian.Uint64(sum[:8])
	return rand.New(rand.NewSource(int64(seedInt)))
}

// AnonymizeValue anonymizes a single value deterministically, caching by
// (str(value), column) so the same input always yields the same output.
func (a *DeterministicAnonymizer) AnonymizeValue(value any, table, column string) any {
	if value == nil {
		return nil
	}
	if a.isForeignKeyColumn(table, column) {
		return value
	}
	if a.ShouldNull(table, column) {
		return nil
	}
	if !a.ShouldAnonymize(table, column) {
		return value
	}

	key := anonCacheKey{value: fmt.Sprintf("%v", value), column: column}
	a.cacheLookups++
	if cached, ok := a.cache[key]; ok {
		a.cacheHits++
		return cached
	}

	rng := seededRand(a.globalSeed, column, value)
	result := generateSynthetic(rng, category(column))
	a.cache[key] = result
	return result
}

// AnonymizeRow anonymizes every sensitive field in a row, returning a new map.
func (a *DeterministicAnonymizer) AnonymizeRow(table string, row map[string]any) map[string]any {
	result := make(map[string]any, len(row))
	anonymizedCount := 0
	for column, value := range row {
		newVal := a.AnonymizeValue(value, table, column)
		if fmt.Sprintf("%v", newVal) != fmt.Sprintf("%v", value) {
			anonymizedCount++
		}
		result[column] = newVal
	}
	if anonymizedCount > 0 {
		a.logger.Debugw("anonymized row", "table", table, "anonymized_fields", anonymizedCount, "total_fields", len(row))
	}
	return result
}

// Statistics reports anonymizer cache size and configured redact count.
func (a *DeterministicAnonymizer) Statistics() map[string]int {
	return map[string]int{
		"cache_size":          len(a.cache),
		"redact_fields_count": len(a.redactFields),
	}
}

// CacheHitRatio reports the fraction of AnonymizeValue calls served from
// cache rather than freshly generated, 0 when nothing has been anonymized yet.
func (a *DeterministicAnonymizer) CacheHitRatio() float64 {
	if a.cacheLookups == 0 {
		return 0
	}
	return float64(a.cacheHits) / float64(a.cacheLookups)
}

var (
	firstNames = []string{"James", "Mary", "Robert", "Patricia", "John", "Jennifer", "Michael", "Linda", "William", "Elizabeth", "David", "Barbara", "Richard", "Susan", "Joseph", "Jessica", "Thomas", "Sarah", "Charles", "Karen"}
	lastNames  = []string{"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez", "Wilson", "Anderson", "Thomas", "Taylor", "Moore", "Jackson", "Martin"}
	streets    = []string{"Main St", "Oak Ave", "Maple Dr", "Cedar Ln", "Elm St", "Pine Rd", "Washington Blvd", "Park Ave", "Lake Dr", "Hill St"}
	cities     = []string{"Springfield", "Riverside", "Franklin", "Clinton", "Greenville", "Salem", "Fairview", "Madison", "Georgetown", "Arlington"}
	companies  = []string{"Initech", "Globex", "Umbrella Corp", "Acme Inc", "Stark Industries", "Wayne Enterprises", "Hooli", "Soylent Corp", "Vehement Capital", "Massive Dynamic"}
	jobs       = []string{"Software Engineer", "Product Manager", "Data Analyst", "Account Executive", "Operations Lead", "Marketing Specialist", "Systems Architect", "QA Engineer"}
	domains    = []string{"example.com", "test.org", "sample.net", "demo.io", "placeholder.dev"}
	tlds       = []string{"com", "net", "org", "io"}
)

// generateSynthetic produces a deterministic synthetic value for the
// given category using rng, the per-value seeded source. Categories
// mirror the Faker method names the Python source dispatched to.
func generateSynthetic(rng *rand.Rand, cat string) any {
	switch cat {
	case "email":
		return fmt.Sprintf("user%d@%s", rng.Intn(1_000_000), pick(rng, domains))
	case "phone_number":
		return fmt.Sprintf("+1-%03d-%03d-%04d", rng.Intn(800)+200, rng.Intn(800)+200, rng.Intn(10000))
	case "name":
		return pick(rng, firstNames) + " " + pick(rng, lastNames)
	case "first_name":
		return pick(rng, firstNames)
	case "last_name":
		return pick(rng, lastNames)
	case "address":
		return fmt.Sprintf("%d %s, %s", rng.Intn(9999)+1, pick(rng, streets), pick(rng, cities))
	case "street_address":
		return fmt.Sprintf("%d %s", rng.Intn(9999)+1, pick(rng, streets))
	case "city":
		return pick(rng, cities)
	case "zipcode":
		return fmt.Sprintf("%05d", rng.Intn(100000))
	case "ssn":
		return fmt.Sprintf("%03d-%02d-%04d", rng.Intn(1000), rng.Intn(100), rng.Intn(10000))
	case "credit_card_number":
		return fmt.Sprintf("4%03d%04d%04d%04d", rng.Intn(1000), rng.Intn(10000), rng.Intn(10000), rng.Intn(10000))
	case "passport_number":
		return fmt.Sprintf("%c%08d", 'A'+rune(rng.Intn(26)), rng.Intn(100000000))
	case "driver_license":
		return fmt.Sprintf("%c%08d", 'D'+rune(rng.Intn(5)), rng.Intn(100000000))
	case "iban":
		return fmt.Sprintf("GB%02d%s%08d%08d", rng.Intn(100), "REFS", rng.Intn(100000000), rng.Intn(100000000))
	case "bban":
		return fmt.Sprintf("%020d", rng.Int63n(1e18))
	case "routing_number":
		return fmt.Sprintf("%09d", rng.Intn(1_000_000_000))
	case "swift":
		return fmt.Sprintf("REFS%c%cXX", 'A'+rune(rng.Intn(26)), 'A'+rune(rng.Intn(26)))
	case "ipv4":
		return fmt.Sprintf("%d.%d.%d.%d", rng.Intn(256), rng.Intn(256), rng.Intn(256), rng.Intn(256))
	case "ipv6":
		return fmt.Sprintf("%04x:%04x:%04x:%04x:%04x:%04x:%04x:%04x",
			rng.Intn(65536), rng.Intn(65536), rng.Intn(65536), rng.Intn(65536),
			rng.Intn(65536), rng.Intn(65536), rng.Intn(65536), rng.Intn(65536))
	case "mac_address":
		return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
			rng.Intn(256), rng.Intn(256), rng.Intn(256), rng.Intn(256), rng.Intn(256), rng.Intn(256))
	case "user_name":
		return fmt.Sprintf("%s%d", strings.ToLower(pick(rng, firstNames)), rng.Intn(10000))
	case "date_of_birth":
		year := 1950 + rng.Intn(55)
		month := rng.Intn(12) + 1
		day := rng.Intn(28) + 1
		return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	case "company":
		return pick(rng, companies)
	case "job":
		return pick(rng, jobs)
	case "random_int":
		return rng.Intn(200000)
	case "url":
		return fmt.Sprintf("https://%s/%d", pick(rng, domains), rng.Intn(10000))
	case "domain_name":
		return fmt.Sprintf("synthetic-%d.%s", rng.Intn(100000), pick(rng, tlds))
	default:
		return randomString(rng, 12)
	}
}

func pick(rng *rand.Rand, options []string) string {
	return options[rng.Intn(len(options))]
}

const alnum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomString(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alnum[rng.Intn(len(alnum))]
	}
	return string(b)
}
