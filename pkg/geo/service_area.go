package geo

import (
	"github.com/pkg/errors"
)

// ServiceAreaState is the only province the shelter serves.
const ServiceAreaState = "Sultan Kudarat"

// AllowedMunicipalities are the municipalities of Sultan Kudarat, as LocationIQ
// names them with normalizecity=1.
var AllowedMunicipalities = []string{
	"Tacurong",
	"Bagumbayan",
	"Columbio",
	"Esperanza",
	"Isulan",
	"Kalamansig",
	"Lambayong",
	"Lebak",
	"Lutayan",
	"Palimbang",
	"President Quirino",
	"Senator Ninoy Aquino",
}

var ErrOutsideServiceArea = errors.New("please choose an address within Sultan Kudarat only")

// ValidateServiceArea accepts a place only if it lies in Sultan Kudarat and in
// one of its allowed municipalities.
func ValidateServiceArea(p Place) error {
	if p.Address.State != ServiceAreaState {
		return ErrOutsideServiceArea
	}
	m := p.Municipality()
	for _, allowed := range AllowedMunicipalities {
		if m == allowed {
			return nil
		}
	}
	return ErrOutsideServiceArea
}
