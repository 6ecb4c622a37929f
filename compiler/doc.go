/*

Process of compilation

Schema Document (yaml) ->
	schema ->
Document Tree ->
	front ->
High Level Representation (hir) ->
	analyze ->
Ordered, Resolved HIR ->
	lower ->
Low Level Representation (lir) ->
	back ->
Source Artifact (header)

*/
package compiler
