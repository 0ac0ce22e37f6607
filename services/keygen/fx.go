package keygen

import (
	"go.uber.org/fx"
)

var Module = fx.Module("keygen",
	fx.Provide(NewGenerator),
)

type Params struct {
	fx.In
	Exists ExistsFunc `optional:"true"`
}

func NewGenerator(p Params) *Generator {
	return New(p.Exists)
}
