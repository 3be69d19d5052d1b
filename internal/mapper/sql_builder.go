package mapper

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Guizzs26/go-lead-dialler/internal/models"
)

// Dialect is the SQL flavour spoken by the source-of-truth replica
type Dialect int

const (
	// Firebird 2.5: "?" placeholders, SELECT FIRST n, no BOOLEAN type, LIST()
	Firebird Dialect = iota
	// Postgres through database/sql: "$n" placeholders, LIMIT n, BOOLEAN, STRING_AGG()
	Postgres
)

// DialectForDriver maps a database/sql driver name to its dialect
func DialectForDriver(driver string) (Dialect, error) {
	switch driver {
	case "firebirdsql":
		return Firebird, nil
	case "pgx", "postgres":
		return Postgres, nil
	default:
		return 0, fmt.Errorf("no SQL dialect for driver %q", driver)
	}
}

// Status literals are constants and are inlined; Firebird cannot type parameters in a select list
const (
	claimCompleteStatus      = "'complete'"
	requirementPendingStatus = "'pending'"
)

// CandidateFilter narrows an eligibility query. AfterUserID pages by keyset,
// UserIDs restricts the query to specific users (revalidation and enrichment)
type CandidateFilter struct {
	AfterUserID *int64
	UserIDs     []int64
	Limit       int
}

// SQLBuilder translates the queue eligibility predicates into replica SQL.
// Both the lead scoring listing and the dequeue revalidation go through the same predicate
type SQLBuilder struct {
	dialect Dialect
}

// NewSQLBuilder initializes a new mapper instance for the given dialect
func NewSQLBuilder(d Dialect) *SQLBuilder {
	return &SQLBuilder{dialect: d}
}

func (b *SQLBuilder) Dialect() Dialect { return b.dialect }

// BuildCandidates generates the eligibility query for a queue type.
// Unsigned rows scan as (user_id, claim_id, signature_missing_since).
// Outstanding rows scan as (user_id, claim_id, total, pending, requirement_types)
func (b *SQLBuilder) BuildCandidates(q models.QueueType, f CandidateFilter) (string, []any, error) {
	if f.UserIDs != nil && len(f.UserIDs) == 0 {
		return "", nil, fmt.Errorf("empty user id filter for %s", q)
	}

	var (
		sb   strings.Builder
		args []any
	)

	sb.WriteString(b.selectHead(f.Limit))

	switch q {
	case models.QueueUnsignedUsers:
		sb.WriteString(" u.ID, MIN(c.ID), MIN(u.CREATED_AT)")
		sb.WriteString(" FROM USERS u JOIN CLAIMS c ON c.USER_ID = u.ID")
		sb.WriteString(" WHERE u.IS_ENABLED = " + b.trueLiteral())
		sb.WriteString(" AND c.STATUS <> " + claimCompleteStatus)
		sb.WriteString(" AND NOT EXISTS (SELECT 1 FROM USER_SIGNATURES s WHERE s.USER_ID = u.ID)")

	case models.QueueOutstandingRequests:
		pending := "CASE WHEN r.STATUS = " + requirementPendingStatus + " THEN %s END"
		sb.WriteString(" u.ID, MIN(" + fmt.Sprintf(pending, "c.ID") + "), COUNT(r.ID),")
		sb.WriteString(" SUM(" + fmt.Sprintf(pending, "1") + "), ")
		sb.WriteString(b.stringAgg(fmt.Sprintf(pending, "r.REQUIREMENT_TYPE")))
		sb.WriteString(" FROM USERS u JOIN CLAIMS c ON c.USER_ID = u.ID JOIN CLAIM_REQUIREMENTS r ON r.CLAIM_ID = c.ID")
		sb.WriteString(" WHERE u.IS_ENABLED = " + b.trueLiteral())
		sb.WriteString(" AND EXISTS (SELECT 1 FROM USER_SIGNATURES s WHERE s.USER_ID = u.ID)")
		clause, reqArgs := relevantRequirementClause("r")
		sb.WriteString(" AND " + clause)
		args = append(args, reqArgs...)

	default:
		return "", nil, fmt.Errorf("no eligibility predicate for queue type %q", q)
	}

	if f.AfterUserID != nil {
		sb.WriteString(" AND u.ID > ?")
		args = append(args, *f.AfterUserID)
	}
	if len(f.UserIDs) > 0 {
		sb.WriteString(" AND u.ID IN (" + placeholders(len(f.UserIDs)) + ")")
		for _, id := range f.UserIDs {
			args = append(args, id)
		}
	}

	sb.WriteString(" GROUP BY u.ID")
	if q == models.QueueOutstandingRequests {
		sb.WriteString(" HAVING COUNT(CASE WHEN r.STATUS = " + requirementPendingStatus + " THEN 1 END) > 0")
	}
	sb.WriteString(" ORDER BY u.ID")
	sb.WriteString(b.limitTail(f.Limit))

	return b.Rebind(sb.String()), args, nil
}

// BuildUserState generates the diagnostic query that explains a user's eligibility.
// Rows scan as (enabled, signatures, open_claims, pending_requirements)
func (b *SQLBuilder) BuildUserState(userID int64) (string, []any) {
	var args []any

	clause, reqArgs := relevantRequirementClause("r")

	query := "SELECT CASE WHEN u.IS_ENABLED = " + b.trueLiteral() + " THEN 1 ELSE 0 END," +
		" (SELECT COUNT(*) FROM USER_SIGNATURES s WHERE s.USER_ID = u.ID)," +
		" (SELECT COUNT(*) FROM CLAIMS c WHERE c.USER_ID = u.ID AND c.STATUS <> " + claimCompleteStatus + ")," +
		" (SELECT COUNT(*) FROM CLAIM_REQUIREMENTS r JOIN CLAIMS c2 ON c2.ID = r.CLAIM_ID" +
		" WHERE c2.USER_ID = u.ID AND r.STATUS = " + requirementPendingStatus + " AND " + clause + ")" +
		" FROM USERS u WHERE u.ID = ?"

	args = append(args, reqArgs...)
	args = append(args, userID)

	return b.Rebind(query), args
}

// Rebind rewrites "?" placeholders into the dialect's style, leaving quoted literals alone
func (b *SQLBuilder) Rebind(query string) string {
	if b.dialect != Postgres {
		return query
	}

	var (
		sb      strings.Builder
		n       int
		inQuote bool
	)
	sb.Grow(len(query) + 8)
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			sb.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			sb.WriteString("$" + strconv.Itoa(n))
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// relevantRequirementClause filters out requirement types that never justify a call
func relevantRequirementClause(alias string) (string, []any) {
	excluded := models.ExcludedRequirementTypes
	args := make([]any, 0, len(excluded)+2)
	for _, t := range excluded {
		args = append(args, t)
	}
	args = append(args, models.IDDocumentRequirement, models.BaseRequirementReason)

	clause := fmt.Sprintf("%[1]s.REQUIREMENT_TYPE NOT IN (%[2]s) AND NOT (%[1]s.REQUIREMENT_TYPE = ? AND COALESCE(%[1]s.REASON, '') = ?)",
		alias, placeholders(len(excluded)))
	return clause, args
}

func (b *SQLBuilder) selectHead(limit int) string {
	if b.dialect == Firebird && limit > 0 {
		return "SELECT FIRST " + strconv.Itoa(limit)
	}
	return "SELECT"
}

func (b *SQLBuilder) limitTail(limit int) string {
	if b.dialect == Postgres && limit > 0 {
		return " LIMIT " + strconv.Itoa(limit)
	}
	return ""
}

// trueLiteral compensates for Firebird 2.5 having no BOOLEAN type (flags are SMALLINT 0/1)
func (b *SQLBuilder) trueLiteral() string {
	if b.dialect == Firebird {
		return "1"
	}
	return "TRUE"
}

func (b *SQLBuilder) stringAgg(expr string) string {
	if b.dialect == Firebird {
		return "LIST(DISTINCT " + expr + ", ',')"
	}
	return "STRING_AGG(DISTINCT " + expr + ", ',')"
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
