package InputParameters

import (
	"fmt"
	"sort"

	"github.com/ghodss/yaml"
)

// Parameters obtained from the YAML input file
type OperatorParameters struct {
	Title            string            `yaml:"Title"`
	Dim              int               `yaml:"Dim"`
	Divisions        int               `yaml:"Divisions"` // cells per axis of the base mesh
	Refinements      int               `yaml:"Refinements"`
	ElementOrder     int               `yaml:"ElementOrder"`
	MappingOrder     int               `yaml:"MappingOrder"`
	QuadraturePoints int               `yaml:"QuadraturePoints"` // per axis; 0 derives from the element order
	Scheme           string            `yaml:"Scheme"`           // "serial" or "color"
	LaneWidth        int               `yaml:"LaneWidth"`        // 0 detects from the CPU
	Iterations       int               `yaml:"Iterations"`
	Distortions      map[int][]float64 `yaml:"Distortions"` // vertex number to coordinate offset
}

func (op *OperatorParameters) Parse(data []byte) error {
	if err := yaml.Unmarshal(data, op); err != nil {
		return err
	}
	if op.QuadraturePoints == 0 {
		op.QuadraturePoints = op.ElementOrder + 1
	}
	return nil
}

func (op *OperatorParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", op.Title)
	fmt.Printf("[%d]\t\t\t= Dim\n", op.Dim)
	fmt.Printf("[%d]\t\t\t= Divisions\n", op.Divisions)
	fmt.Printf("[%d]\t\t\t= Refinements\n", op.Refinements)
	fmt.Printf("[%d]\t\t\t= Element Order\n", op.ElementOrder)
	fmt.Printf("[%d]\t\t\t= Mapping Order\n", op.MappingOrder)
	fmt.Printf("[%d]\t\t\t= Quadrature Points per Axis\n", op.QuadraturePoints)
	fmt.Printf("[%s]\t\t= Scheme\n", op.Scheme)
	keys := make([]int, 0, len(op.Distortions))
	for k := range op.Distortions {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, key := range keys {
		fmt.Printf("Distortions[%d] = %v\n", key, op.Distortions[key])
	}
}
