/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io/ioutil"
	"math"
	"time"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"

	"github.com/notargets/matfree/InputParameters"
	"github.com/notargets/matfree/dofs"
	"github.com/notargets/matfree/geometry"
	"github.com/notargets/matfree/matfree"
	"github.com/notargets/matfree/mesh"
	"github.com/notargets/matfree/quadrature"
	"github.com/notargets/matfree/scheduler"
)

type ModelOperator struct {
	ParamFile string
	Profile   bool
	IP        *InputParameters.OperatorParameters
}

// OperatorCmd represents the operator command
var OperatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Matrix-free Laplacian evaluation on a refined Cartesian mesh",
	Long: `
Builds a Cartesian mesh, distributes degrees of freedom, initializes the
matrix-free engine and applies the Laplace operator repeatedly, reporting
batch statistics and throughput.

matfree operator -I input.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		var (
			err error
			mo  = &ModelOperator{}
		)
		fmt.Println("operator called")
		if mo.ParamFile, err = cmd.Flags().GetString("inputParametersFile"); err != nil {
			panic(err)
		}
		mo.Profile, _ = cmd.Flags().GetBool("profile")
		mo.IP = processOperatorInput(mo)
		RunOperator(mo)
	},
}

func processOperatorInput(mo *ModelOperator) (ip *InputParameters.OperatorParameters) {
	ip = &InputParameters.OperatorParameters{
		Title:        "Default Case",
		Dim:          2,
		Divisions:    8,
		ElementOrder: 1,
		MappingOrder: 1,
		Scheme:       "serial",
		Iterations:   10,
	}
	if len(mo.ParamFile) == 0 {
		exampleFile := `
########################################
Title: "Curved Laplacian"
Dim: 2
Divisions: 8
Refinements: 1
ElementOrder: 2
MappingOrder: 2
Scheme: color
Iterations: 100
########################################
`
		fmt.Printf("No parameters file given (-I); running defaults.\nExample File:%s\n",
			exampleFile)
	} else {
		data, err := ioutil.ReadFile(mo.ParamFile)
		if err != nil {
			panic(err)
		}
		if err = ip.Parse(data); err != nil {
			panic(err)
		}
	}
	if ip.QuadraturePoints == 0 {
		ip.QuadraturePoints = ip.ElementOrder + 1
	}
	ip.Print()
	return
}

func init() {
	rootCmd.AddCommand(OperatorCmd)
	OperatorCmd.Flags().StringP("inputParametersFile", "I", "", "YAML file for input parameters like:\n\t- Dim\n\t- ElementOrder\n\t- Scheme")
	OperatorCmd.Flags().BoolP("profile", "p", false, "write a CPU profile of the evaluation loop")
}

func RunOperator(mo *ModelOperator) {
	var (
		ip  = mo.IP
		err error
	)
	if mo.Profile {
		defer profile.Start(profile.CPUProfile).Stop()
	}
	m, err := mesh.UnitCube(ip.Dim, ip.Divisions)
	if err != nil {
		panic(err)
	}
	for v, delta := range ip.Distortions {
		if err = m.DistortVertex(v, delta); err != nil {
			panic(err)
		}
	}
	m.GlobalRefine(ip.Refinements)

	mq, err := geometry.NewMappingQ(ip.Dim, ip.Dim, ip.MappingOrder)
	if err != nil {
		panic(err)
	}
	dh, err := dofs.NewDoFHandler(m, dofs.NewQ(ip.Dim, ip.ElementOrder))
	if err != nil {
		panic(err)
	}
	dh.Distribute()
	ac := dofs.NewAffineConstraints()
	if err = ac.Close(); err != nil {
		panic(err)
	}

	scheme := scheduler.SchemeNone
	if ip.Scheme == "color" {
		scheme = scheduler.SchemeColor
	}
	quad := quadrature.TensorProduct(ip.Dim, quadrature.GaussLegendre(ip.QuadraturePoints))
	mf := matfree.New()
	if err = mf.Reinit(m, mq, []*dofs.DoFHandler{dh},
		[]*dofs.AffineConstraints{ac}, []quadrature.Quadrature{quad},
		matfree.AdditionalData{
			TasksParallelScheme: scheme,
			LaneWidth:           ip.LaneWidth,
			MappingUpdateFlags: matfree.UpdateGradients | matfree.UpdateJxW |
				matfree.UpdateQuadraturePoints,
		}); err != nil {
		panic(err)
	}
	fmt.Printf("%d cells in %d batches, %d dofs\n",
		m.NActiveCells(), mf.NCellBatches(), dh.NDofs)

	var (
		op      = matfree.NewLaplaceOperator(mf)
		p       = mf.DofInfo[0].VectorPartitioner
		src     = make([]float64, p.NLocal())
		dst     = make([]float64, p.NLocal())
		elapsed time.Duration
	)
	for l := 0; l < p.NLocal(); l++ {
		g := p.LocalToGlobal(l)
		src[l] = math.Sin(float64(g))
	}
	start := time.Now()
	for it := 0; it < ip.Iterations; it++ {
		op.Apply(dst, src)
	}
	elapsed = time.Since(start)
	var norm float64
	for _, v := range dst {
		norm += v * v
	}
	fmt.Printf("%d applications in %v (%.2f us/cell), |A u|^2 = %.6e\n",
		ip.Iterations, elapsed,
		float64(elapsed.Microseconds())/float64(ip.Iterations*m.NActiveCells()),
		norm)
}
