package services

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"edu-monitoring/internal/models"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

const (
	maxStoredQueries     = 1000
	slowQueryThresholdMs = 1000.0
	fastQueryThresholdMs = 100.0
	analysisRetention    = 24 * time.Hour
	nPlusOneWindow       = 5 * time.Second
	nPlusOneMinQueries   = 10
	maxPatterns          = 10
	maxPatternExamples   = 3
	maxSlowestQueries    = 20
	maxRecommendations   = 10
	maxLoggedQueryLength = 500
)

var (
	redactPatterns = []struct {
		re          *regexp.Regexp
		replacement string
	}{
		{regexp.MustCompile(`(?i)password\s*=\s*'(?:[^']|'')*'`), "password = '[REDACTED]'"},
		{regexp.MustCompile(`(?i)token\s*=\s*'(?:[^']|'')*'`), "token = '[REDACTED]'"},
		{regexp.MustCompile(`(?i)secret\s*=\s*'(?:[^']|'')*'`), "secret = '[REDACTED]'"},
	}

	// orden de prioridad de la inferencia de tabla
	tablePatterns = []*regexp.Regexp{
		regexp.MustCompile("(?i)\\bFROM\\s+[\"`]?([A-Za-z_][\\w.]*)"),
		regexp.MustCompile("(?i)\\bINTO\\s+[\"`]?([A-Za-z_][\\w.]*)"),
		regexp.MustCompile("(?i)\\bUPDATE\\s+[\"`]?([A-Za-z_][\\w.]*)"),
		regexp.MustCompile("(?i)\\bDELETE\\s+FROM\\s+[\"`]?([A-Za-z_][\\w.]*)"),
	}

	selectStarRe  = regexp.MustCompile(`\bselect\s+\*`)
	limitRe       = regexp.MustCompile(`\blimit\b`)
	whereRe       = regexp.MustCompile(`(?s)\bwhere\b(.*)`)
	whereEndRe    = regexp.MustCompile(`\b(group\s+by|order\s+by|limit|having|returning)\b`)
	orRe          = regexp.MustCompile(`\bor\b`)
	funcCallRe    = regexp.MustCompile(`\b([a-z_][a-z0-9_]*)\s*\(`)
	joinRe        = regexp.MustCompile(`\bjoin\b`)
	onRe          = regexp.MustCompile(`\bon\b`)
	subqueryRe    = regexp.MustCompile(`\(\s*select\b`)
	orderByRe     = regexp.MustCompile(`\border\s+by\b`)
	distinctRe    = regexp.MustCompile(`\bdistinct\b`)
	andSplitRe    = regexp.MustCompile(`\s+and\s+`)
	stringLitRe   = regexp.MustCompile(`'(?:[^']|'')*'`)
	numberLitRe   = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	sqlOperations = map[string]models.Operation{
		"select": models.OperationSelect,
		"insert": models.OperationInsert,
		"update": models.OperationUpdate,
		"delete": models.OperationDelete,
	}
)

// palabras reservadas que aparecen antes de "(" sin ser llamadas a función
var whereKeywords = map[string]bool{
	"in": true, "exists": true, "not": true, "and": true, "or": true,
	"any": true, "all": true, "some": true, "select": true, "values": true,
	"array": true, "between": true, "is": true, "like": true, "ilike": true,
}

// SlowQueryRecorder recibe las queries lentas detectadas por el analyzer
type SlowQueryRecorder interface {
	RecordDatabaseQuery(query string, timeMs float64)
}

// SlowQueryRecorderFunc permite usar una función como SlowQueryRecorder
type SlowQueryRecorderFunc func(query string, timeMs float64)

func (f SlowQueryRecorderFunc) RecordDatabaseQuery(query string, timeMs float64) {
	f(query, timeMs)
}

// DatabaseAnalyzer diagnostica queries y mantiene un historial acotado
type DatabaseAnalyzer struct {
	logger   *zap.Logger
	clock    Clock
	recorder SlowQueryRecorder

	mu      sync.RWMutex
	queries []models.QueryAnalysis

	// memo de rendimiento para normalizeQuery; no cambia el resultado y puede perder entradas
	normalized *ristretto.Cache
}

// NewDatabaseAnalyzer crea una nueva instancia del analyzer. recorder puede ser nil.
func NewDatabaseAnalyzer(logger *zap.Logger, clock Clock, recorder SlowQueryRecorder) (*DatabaseAnalyzer, error) {
	if clock == nil {
		clock = SystemClock
	}

	normalized, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * maxStoredQueries,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create normalization memo: %w", err)
	}

	return &DatabaseAnalyzer{
		logger:     logger.With(zap.String("component", "database_analyzer")),
		clock:      clock,
		recorder:   recorder,
		queries:    make([]models.QueryAnalysis, 0, maxStoredQueries),
		normalized: normalized,
	}, nil
}

// Close libera el memo de normalización
func (a *DatabaseAnalyzer) Close() {
	a.normalized.Close()
}

// AnalyzeQuery clasifica la query, genera sugerencias y la almacena
func (a *DatabaseAnalyzer) AnalyzeQuery(query string, executionTime float64, metadata *models.QueryMetadata) models.QueryAnalysis {
	sanitized := sanitizeQuery(query)
	lower := strings.ToLower(sanitized)

	table := extractTableName(sanitized)
	var rows *int64
	if metadata != nil {
		if metadata.Table != "" {
			table = metadata.Table
		}
		rows = metadata.Rows
	}

	operation := extractOperation(sanitized)
	severity, suggestions := performanceSuggestions(executionTime)
	suggestions = append(suggestions, patternSuggestions(lower, operation)...)
	suggestions = append(suggestions, structuralSuggestions(lower)...)

	now := a.clock.Now()
	analysis := models.QueryAnalysis{
		Query:         sanitized,
		Table:         table,
		Operation:     operation,
		ExecutionTime: executionTime,
		Timestamp:     now,
		RowsExamined:  rows,
		Severity:      severity,
	}

	a.mu.Lock()
	if operation == models.OperationSelect && executionTime < fastQueryThresholdMs {
		// la query actual cuenta dentro de la ventana
		similar := 1 + a.countRecentSelects(table, now)
		if similar > nPlusOneMinQueries {
			analysis.Severity = models.SeverityHigh
			suggestions = append(suggestions, fmt.Sprintf(
				"Possible N+1 query pattern: %d SELECTs on table '%s' within %s. Use a JOIN or eager loading",
				similar, table, nPlusOneWindow))
		}
	}
	analysis.Suggestions = suggestions

	if len(a.queries) >= maxStoredQueries {
		overflow := len(a.queries) - maxStoredQueries + 1
		n := copy(a.queries, a.queries[overflow:])
		a.queries = a.queries[:n]
	}
	a.queries = append(a.queries, analysis)
	a.mu.Unlock()

	if executionTime > slowQueryThresholdMs {
		a.logger.Warn("Slow query detected",
			zap.String("query", truncate(sanitized, maxLoggedQueryLength)),
			zap.String("table", table),
			zap.String("operation", string(operation)),
			zap.Float64("execution_time_ms", executionTime),
			zap.String("severity", string(analysis.Severity)),
			zap.Strings("suggestions", analysis.Suggestions))

		if a.recorder != nil {
			a.recorder.RecordDatabaseQuery(sanitized, executionTime)
		}
	}

	return analysis
}

// countRecentSelects requiere a.mu tomado
func (a *DatabaseAnalyzer) countRecentSelects(table string, now time.Time) int {
	count := 0
	for i := len(a.queries) - 1; i >= 0; i-- {
		q := a.queries[i]
		if now.Sub(q.Timestamp) >= nPlusOneWindow {
			break
		}
		if q.Operation == models.OperationSelect && q.Table == table {
			count++
		}
	}
	return count
}

// GetMetrics agrega las queries de las últimas 24 horas
func (a *DatabaseAnalyzer) GetMetrics() models.DatabaseAnalysis {
	recent := a.recentQueries(a.clock.Now().Add(-analysisRetention))

	result := models.DatabaseAnalysis{
		TotalQueries:    len(recent),
		QueryPatterns:   []models.QueryPattern{},
		SlowestQueries:  []models.QueryAnalysis{},
		Recommendations: []string{},
	}
	if len(recent) == 0 {
		return result
	}

	var totalTime float64
	slow := make([]models.QueryAnalysis, 0)
	for _, q := range recent {
		totalTime += q.ExecutionTime
		if q.ExecutionTime > slowQueryThresholdMs {
			slow = append(slow, q)
		}
	}

	result.SlowQueries = len(slow)
	result.AvgExecutionTime = totalTime / float64(len(recent))
	result.QueryPatterns = a.queryPatterns(recent)
	if len(slow) > maxSlowestQueries {
		slow = slow[len(slow)-maxSlowestQueries:]
	}
	result.SlowestQueries = slow
	result.Recommendations = generateRecommendations(recent, result.SlowQueries)

	return result
}

// GetQueriesByTable queries de una tabla dentro de las últimas horas (24 por defecto)
func (a *DatabaseAnalyzer) GetQueriesByTable(tableName string, hours int) []models.QueryAnalysis {
	if hours <= 0 {
		hours = 24
	}
	cutoff := a.clock.Now().Add(-time.Duration(hours) * time.Hour)

	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]models.QueryAnalysis, 0)
	for _, q := range a.queries {
		if q.Table == tableName && q.Timestamp.After(cutoff) {
			result = append(result, q)
		}
	}
	return result
}

// Cleanup elimina los análisis con más de 24 horas y retorna cuántos se borraron
func (a *DatabaseAnalyzer) Cleanup() int {
	cutoff := a.clock.Now().Add(-analysisRetention)

	a.mu.Lock()
	kept := a.queries[:0]
	for _, q := range a.queries {
		if q.Timestamp.After(cutoff) {
			kept = append(kept, q)
		}
	}
	removed := len(a.queries) - len(kept)
	a.queries = kept
	a.mu.Unlock()

	if removed > 0 {
		a.logger.Debug("Old query analyses removed", zap.Int("removed", removed), zap.Int("remaining", len(kept)))
	}
	return removed
}

// Count número de análisis almacenados
func (a *DatabaseAnalyzer) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.queries)
}

func (a *DatabaseAnalyzer) recentQueries(cutoff time.Time) []models.QueryAnalysis {
	a.mu.RLock()
	defer a.mu.RUnlock()

	recent := make([]models.QueryAnalysis, 0, len(a.queries))
	for _, q := range a.queries {
		if q.Timestamp.After(cutoff) {
			recent = append(recent, q)
		}
	}
	return recent
}

func (a *DatabaseAnalyzer) queryPatterns(queries []models.QueryAnalysis) []models.QueryPattern {
	groups := make(map[string]*models.QueryPattern)
	order := make([]string, 0)
	totals := make(map[string]float64)

	for _, q := range queries {
		key := a.normalize(q.Query)
		p, ok := groups[key]
		if !ok {
			p = &models.QueryPattern{Pattern: key, MinTime: q.ExecutionTime, MaxTime: q.ExecutionTime}
			groups[key] = p
			order = append(order, key)
		}
		p.Count++
		totals[key] += q.ExecutionTime
		if q.ExecutionTime > p.MaxTime {
			p.MaxTime = q.ExecutionTime
		}
		if q.ExecutionTime < p.MinTime {
			p.MinTime = q.ExecutionTime
		}
		if len(p.Examples) < maxPatternExamples {
			p.Examples = append(p.Examples, q.Query)
		}
	}

	patterns := make([]models.QueryPattern, 0, len(order))
	for _, key := range order {
		p := groups[key]
		p.AvgTime = totals[key] / float64(p.Count)
		patterns = append(patterns, *p)
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].Count > patterns[j].Count
	})
	if len(patterns) > maxPatterns {
		patterns = patterns[:maxPatterns]
	}
	return patterns
}

func (a *DatabaseAnalyzer) normalize(query string) string {
	if v, ok := a.normalized.Get(query); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	normalized := normalizeQuery(query)
	a.normalized.Set(query, normalized, int64(len(query)+len(normalized)))
	return normalized
}

func generateRecommendations(queries []models.QueryAnalysis, slowCount int) []string {
	recs := make([]string, 0)
	total := len(queries)

	slowRatio := float64(slowCount) / float64(total)
	if slowRatio > 0.1 {
		recs = append(recs, fmt.Sprintf(
			"%.1f%% of queries are slow (>%.0fms). Review indexes on frequently filtered and joined columns",
			slowRatio*100, slowQueryThresholdMs))
	}

	tableCounts := make(map[string]int)
	var selects, fastSelects, slowWithoutLimit int
	for _, q := range queries {
		tableCounts[q.Table]++
		if q.Operation != models.OperationSelect {
			continue
		}
		selects++
		if q.ExecutionTime < fastQueryThresholdMs {
			fastSelects++
		}
		if q.ExecutionTime > 500 && !limitRe.MatchString(strings.ToLower(q.Query)) {
			slowWithoutLimit++
		}
	}

	tables := make([]string, 0, len(tableCounts))
	for t := range tableCounts {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool {
		if tableCounts[tables[i]] != tableCounts[tables[j]] {
			return tableCounts[tables[i]] > tableCounts[tables[j]]
		}
		return tables[i] < tables[j]
	})
	for _, t := range tables {
		share := float64(tableCounts[t]) / float64(total)
		if share <= 0.3 {
			break
		}
		recs = append(recs, fmt.Sprintf(
			"Table '%s' receives %.1f%% of all queries. Consider caching its hot rows or adding read replicas",
			t, share*100))
	}

	if fastSelects > 50 && float64(fastSelects) > 0.7*float64(selects) {
		recs = append(recs, fmt.Sprintf(
			"%d fast SELECT queries out of %d suggest an N+1 pattern. Batch lookups or use eager loading",
			fastSelects, selects))
	}

	if slowWithoutLimit > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d slow SELECT queries have no LIMIT. Add pagination to large result sets",
			slowWithoutLimit))
	}

	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}

func sanitizeQuery(query string) string {
	for _, p := range redactPatterns {
		query = p.re.ReplaceAllLiteralString(query, p.replacement)
	}
	return query
}

// extractTableName prefiere coincidencias fuera de paréntesis, así
// EXTRACT(year FROM created_at) no se toma como tabla
func extractTableName(query string) string {
	for _, re := range tablePatterns {
		matches := re.FindAllStringSubmatchIndex(query, -1)
		if len(matches) == 0 {
			continue
		}
		for _, m := range matches {
			if parenDepth(query[:m[0]]) == 0 {
				return query[m[2]:m[3]]
			}
		}
		return query[matches[0][2]:matches[0][3]]
	}
	return "unknown"
}

func parenDepth(prefix string) int {
	depth := 0
	for _, r := range prefix {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		}
	}
	return depth
}

func extractOperation(query string) models.Operation {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(query)))
	if len(fields) == 0 {
		return models.OperationUnknown
	}
	if op, ok := sqlOperations[fields[0]]; ok {
		return op
	}
	return models.OperationUnknown
}

func performanceSuggestions(executionTime float64) (models.Severity, []string) {
	switch {
	case executionTime > 5000:
		return models.SeverityCritical, []string{"Query is extremely slow (>5s). Optimize it urgently: check the execution plan and missing indexes"}
	case executionTime > 2000:
		return models.SeverityHigh, []string{"Query is very slow (>2s). Review its structure and the indexes it uses"}
	case executionTime > 1000:
		return models.SeverityMedium, []string{"Query is slow (>1s). Consider optimizing it"}
	default:
		return models.SeverityLow, []string{}
	}
}

func patternSuggestions(lower string, operation models.Operation) []string {
	var suggestions []string

	if selectStarRe.MatchString(lower) {
		suggestions = append(suggestions, "Avoid SELECT *: select only the columns you need")
	}

	where := whereClause(lower)
	if operation == models.OperationSelect && !limitRe.MatchString(lower) && where == "" {
		suggestions = append(suggestions, "SELECT without WHERE or LIMIT can scan the whole table. Add a filter or pagination")
	}

	if orRe.MatchString(lower) {
		suggestions = append(suggestions, "OR conditions can prevent index usage. Consider UNION or IN")
	}

	if where != "" {
		for _, m := range funcCallRe.FindAllStringSubmatch(where, -1) {
			if !whereKeywords[m[1]] {
				suggestions = append(suggestions, "Function calls on columns in WHERE prevent index usage. Use a functional index or rewrite the condition")
				break
			}
		}
	}

	return suggestions
}

func structuralSuggestions(lower string) []string {
	var suggestions []string
	hasLimit := limitRe.MatchString(lower)

	if joinRe.MatchString(lower) && !onRe.MatchString(lower) {
		suggestions = append(suggestions, "JOIN without ON produces a cartesian product. Add a join condition")
	}
	if subqueryRe.MatchString(lower) {
		suggestions = append(suggestions, "Subquery inside SELECT detected. A JOIN is usually faster")
	}
	if orderByRe.MatchString(lower) && !hasLimit {
		suggestions = append(suggestions, "ORDER BY without LIMIT sorts the whole result set. Add LIMIT if possible")
	}
	if distinctRe.MatchString(lower) {
		suggestions = append(suggestions, "DISTINCT can be expensive. Check whether the duplicates come from a missing join condition")
	}
	if where := whereClause(lower); where != "" && len(andSplitRe.Split(where, -1)) > 5 {
		suggestions = append(suggestions, "WHERE clause has many conditions. Consider a composite index covering them")
	}

	return suggestions
}

// whereClause texto después de WHERE hasta GROUP BY/ORDER BY/LIMIT
func whereClause(lower string) string {
	m := whereRe.FindStringSubmatch(lower)
	if len(m) < 2 {
		return ""
	}
	clause := m[1]
	if loc := whereEndRe.FindStringIndex(clause); loc != nil {
		clause = clause[:loc[0]]
	}
	return strings.TrimSpace(clause)
}

// normalizeQuery reemplaza literales por "?" y colapsa espacios
func normalizeQuery(query string) string {
	normalized := stringLitRe.ReplaceAllString(query, "?")
	normalized = numberLitRe.ReplaceAllString(normalized, "?")
	normalized = whitespaceRe.ReplaceAllString(normalized, " ")
	return strings.ToLower(strings.TrimSpace(normalized))
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
