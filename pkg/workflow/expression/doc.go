// Package expression provides condition expression evaluation for workflow steps.
//
// It uses the expr-lang/expr library to evaluate boolean expressions that
// determine whether workflow steps should execute. Expressions support:
//
//   - Variable access: inputs.name, steps.step_id.content
//   - Comparisons: ==, !=, <, >, <=, >=
//   - Boolean logic: &&, ||, !
//   - Membership: "value" in array (built-in operator)
//   - Named predicates: exists, not_exists, has/includes (contains), starts_with,
//     ends_with, is_number, is_string, is_empty, matches
//
// Example expressions:
//
//	"security" in inputs.personas
//	has(inputs.personas, "security")
//	inputs.mode == "strict" && inputs.count > 0
//	!inputs.disabled
//	starts_with(inputs.path, "/tmp") && not_exists(steps.fetch.error)
//
// The evaluator caches compiled expressions for performance.
//
// Note: the expr library reserves "contains" as a builtin string/array
// operator, so the "contains" predicate is reached through has()/includes()
// rather than a function literally named contains().
package expression
