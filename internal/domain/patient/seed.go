package patient

import (
	"context"
	"fmt"

	"github.com/clinic/registry/pkg/pagination"
)

// DemoPatient is a seed record. Visits is the total visit count the
// patient ends up with, the first consultation included.
type DemoPatient struct {
	FullName  string
	BirthDate string
	Address   string
	Visits    int
}

var DemoPatients = []DemoPatient{
	{"Ali Valiyev", "1985-03-15", "Toshkent shahri, Yunusobod tumani, Navoiy ko'chasi 12-uy", 5},
	{"Dilshoda Karimova", "1992-07-22", "Toshkent shahri, Chilonzor tumani, Bunyodkor ko'chasi 45-uy", 3},
	{"Otabek Toshmatov", "1988-11-08", "Toshkent shahri, Mirzo Ulug'bek tumani, Amir Temur ko'chasi 78-uy", 8},
	{"Gulnora Rahimova", "1995-01-30", "Toshkent shahri, Shayxontohur tumani, Navbahor ko'chasi 23-uy", 2},
	{"Javohir Ismoilov", "1990-05-12", "Toshkent shahri, Sergeli tumani, Mustaqillik ko'chasi 56-uy", 6},
	{"Madina Yusupova", "1993-09-18", "Toshkent shahri, Olmazor tumani, Farobiy ko'chasi 34-uy", 4},
	{"Sardor Qodirov", "1987-12-25", "Toshkent shahri, Yakkasaroy tumani, Fidokor ko'chasi 67-uy", 7},
	{"Zarina Xasanova", "1994-04-05", "Toshkent shahri, Uchtepa tumani, Bobur ko'chasi 89-uy", 1},
	{"Farrux Abdullayev", "1989-08-14", "Toshkent shahri, Bektemir tumani, Alisher Navoiy ko'chasi 12-uy", 9},
	{"Nigora Tursunova", "1991-06-20", "Toshkent shahri, Yangihayot tumani, Mustaqillik ko'chasi 45-uy", 5},
}

var seedReasons = []string{
	"follow-up",
	"blood pressure check",
	"lab results review",
	"flu symptoms",
	"vaccination",
	"annual check-up",
}

// SeedResult reports what Seed did.
type SeedResult struct {
	Patients int  `json:"patients"`
	Visits   int  `json:"visits"`
	Skipped  bool `json:"skipped"`
}

// Seed registers DemoPatients through the normal workflows. It does nothing
// when the registry already has patients unless force is set.
func (s *Service) Seed(ctx context.Context, force bool) (*SeedResult, error) {
	res := &SeedResult{}
	if !force {
		list, err := s.ListPatients(ctx, ListParams{Page: pagination.New(1, 1)})
		if err != nil {
			return nil, err
		}
		if list.Pagination.Total > 0 {
			res.Skipped = true
			return res, nil
		}
	}

	today := s.now()
	for i, d := range DemoPatients {
		p, err := s.RegisterPatient(ctx, CreatePatientInput{
			FullName:  d.FullName,
			BirthDate: d.BirthDate,
			Address:   d.Address,
		})
		if err != nil {
			return res, fmt.Errorf("seed %s: %w", d.FullName, err)
		}
		res.Patients++
		res.Visits++

		for v := 1; v < d.Visits; v++ {
			date := today.AddDate(0, 0, -(v*23 + i)).Format("2006-01-02")
			_, err := s.RegisterVisit(ctx, p.ID, CreateVisitInput{
				Reason:    seedReasons[(i+v)%len(seedReasons)],
				VisitDate: &date,
			})
			if err != nil {
				return res, fmt.Errorf("seed visit for %s: %w", d.FullName, err)
			}
			res.Visits++
		}
	}
	s.logger.Info().Int("patients", res.Patients).Int("visits", res.Visits).Msg("seed finished")
	return res, nil
}
