package dataset

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
)

/*
Advisory parser for the subset of SQL that sql-create-context answers use:

	Query     := "SELECT" "DISTINCT"? SelectExpr ("," SelectExpr)* "FROM" <ident>
	             ("WHERE" Cond)? ("GROUP" "BY" Columns)? ("ORDER" "BY" OrderBy)? ("LIMIT" <int>)?
	SelectExpr:= Func "(" ("*" | "DISTINCT"? Operand) ")" | "*" | Operand
	Cond      := Compare (("AND" | "OR") Compare)*
	Compare   := Operand Op Value

Answers that fall outside the subset (joins, subqueries, vendor syntax) are
reported, never rejected: the formatter still passes every answer through
unchanged.
*/

var sqlParser = participle.MustBuild[sqlQuery](
	participle.Unquote("String"),
)

type sqlQuery struct {
	Select *sqlSelect `@@`
}

type sqlSelect struct {
	Distinct bool          `"SELECT" @"DISTINCT"?`
	Columns  []*sqlExpr    `@@ ("," @@)*`
	From     string        `"FROM" @Ident`
	Where    *sqlCondition `("WHERE" @@)?`
	GroupBy  []string      `("GROUP" "BY" @Ident ("," @Ident)*)?`
	OrderBy  *sqlOrderBy   `("ORDER" "BY" @@)?`
	Limit    *int          `("LIMIT" @Int)?`
}

type sqlExpr struct {
	Func   *sqlFunc `@@`
	Star   bool     `| @"*"`
	Column string   `| @Ident`
}

type sqlFunc struct {
	Name     string `@("COUNT" | "SUM" | "AVG" | "MIN" | "MAX") "("`
	Star     bool   `( @"*"`
	Distinct bool   `| @"DISTINCT"?`
	Column   string `  @Ident? ) ")"`
}

type sqlCondition struct {
	First *sqlCompare `@@`
	Rest  []*sqlChain `@@*`
}

type sqlChain struct {
	Conj    string      `@("AND" | "OR")`
	Compare *sqlCompare `@@`
}

type sqlCompare struct {
	Column string    `@Ident`
	Op     string    `@("=" | "<" "="? ">"? | ">" "="? | "!" "=" | "LIKE")`
	Value  *sqlValue `@@`
}

type sqlValue struct {
	String *string  `@String`
	Number *float64 `| @(Float | Int)`
	Column *string  `| @Ident`
}

type sqlOrderBy struct {
	Expr      *sqlExpr `@@`
	Direction string   `@("ASC" | "DESC")?`
}

// LintIssue flags one answer the advisory parser could not handle.
type LintIssue struct {
	Index  int
	Answer string
	Err    error
}

func (issue LintIssue) String() string {
	return fmt.Sprintf("row %d: %v", issue.Index, issue.Err)
}

// Lint parses each expected answer and collects the ones outside the
// supported subset. It never modifies or drops examples.
func Lint(examples []Example) []LintIssue {
	var issues []LintIssue
	for i, example := range examples {
		if _, err := sqlParser.ParseString("", example.Answer); err != nil {
			issues = append(issues, LintIssue{Index: i, Answer: example.Answer, Err: err})
		}
	}
	return issues
}
