package content

type IDGenerator interface {
	NewID() string
}
