package filter

/*
Env is the environment the configured message filter expression runs against.
Once this struct is fixed it should not be changed, otherwise filter expressions
deployed by operators may not compile any more (f.e. if properties are renamed).
*/

type Env struct {
	Sender string
	Text   string
	Image  string
	Type   string
	Target string
}
