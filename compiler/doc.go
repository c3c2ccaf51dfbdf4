/*

Process of compilation

Program Text ->
	lex ->
Token Stream ->
	parse ->
Concrete Syntax Tree ->
	analyze ->
Scope Tree + Symbols ->
	lower ->
Intermediate Representation (ir) ->
	mem2reg ->
Intermediate Representation (ssa) ->
	select ->
MIPS Assembly Text

Each stage records user errors into a shared collector and continues;
the driver gates on the collector before producing success outputs.

*/
package compiler
