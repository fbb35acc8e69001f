// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	cb "github.com/gorse-io/callgen/callbuilder"
	"github.com/spf13/afero"
	"modernc.org/cc/v4"
)

var errVariadic = errors.New("variadic functions are not supported")

// integerTypes are the C scalar types passed in integer registers.
var integerTypes = map[string]bool{
	"_Bool":     true,
	"char":      true,
	"short":     true,
	"int":       true,
	"long":      true,
	"signed":    true,
	"unsigned":  true,
	"int8_t":    true,
	"int16_t":   true,
	"int32_t":   true,
	"int64_t":   true,
	"uint8_t":   true,
	"uint16_t":  true,
	"uint32_t":  true,
	"uint64_t":  true,
	"size_t":    true,
	"ssize_t":   true,
	"intptr_t":  true,
	"uintptr_t": true,
}

// Prototype is a C function declaration reduced to what a call site needs.
type Prototype struct {
	Name     string
	Position int
	Params   []string
	Types    []cb.Type
	// Result is false for void functions.
	Result     bool
	ResultType cb.Type
}

// Site returns a call site for p whose arguments come from consecutive
// JIT frame slots and whose target is the constant addr.
func (p Prototype) Site(addr uint64) Site {
	site := Site{Name: p.Name, Target: formatLocation(cb.Imm{Value: int64(addr)}), Result: "none"}
	for i, t := range p.Types {
		site.Args = append(site.Args, SiteArg{Loc: formatLocation(cb.StackSlot{Offset: int32(8 * i)}), Type: t.String()})
	}
	if p.Result {
		site.Result = "r3"
		if p.ResultType == cb.Float {
			site.Result = "f1"
		}
	}
	return site
}

// parsePrototypes extracts the functions declared or defined in path.
func parsePrototypes(fs afero.Fs, path string) ([]Prototype, error) {
	source, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	cfg, err := cc.NewConfig(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return nil, err
	}
	var prologue strings.Builder
	// <stdint.h> and <stddef.h> are not included, so the fixed width names
	// are declared here.
	prologue.WriteString("typedef signed char int8_t;\n")
	prologue.WriteString("typedef short int16_t;\n")
	prologue.WriteString("typedef int int32_t;\n")
	prologue.WriteString("typedef long int64_t;\n")
	prologue.WriteString("typedef unsigned char uint8_t;\n")
	prologue.WriteString("typedef unsigned short uint16_t;\n")
	prologue.WriteString("typedef unsigned int uint32_t;\n")
	prologue.WriteString("typedef unsigned long uint64_t;\n")
	prologue.WriteString("typedef unsigned long size_t;\n")
	prologue.WriteString("typedef long ssize_t;\n")
	prologue.WriteString("typedef long intptr_t;\n")
	prologue.WriteString("typedef unsigned long uintptr_t;\n")
	ast, err := cc.Parse(cfg, []cc.Source{
		{Name: "<predefined>", Value: cfg.Predefined},
		{Name: "<builtin>", Value: cc.Builtin},
		{Name: "<prologue>", Value: prologue.String()},
		{Name: path, Value: source},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse source file %v: %w", path, err)
	}

	var prototypes []Prototype
	for tu := ast.TranslationUnit; tu != nil; tu = tu.TranslationUnit {
		externalDeclaration := tu.ExternalDeclaration
		if externalDeclaration.Position().Filename != path {
			continue
		}
		var (
			specifiers *cc.DeclarationSpecifiers
			declarator *cc.Declarator
		)
		switch externalDeclaration.Case {
		case cc.ExternalDeclarationFuncDef:
			specifiers = externalDeclaration.FunctionDefinition.DeclarationSpecifiers
			declarator = externalDeclaration.FunctionDefinition.Declarator
		case cc.ExternalDeclarationDecl:
			declaration := externalDeclaration.Declaration
			if declaration.InitDeclaratorList == nil || declaration.InitDeclaratorList.InitDeclarator == nil {
				continue
			}
			specifiers = declaration.DeclarationSpecifiers
			declarator = declaration.InitDeclaratorList.InitDeclarator.Declarator
		default:
			continue
		}
		if declarator == nil || !isFunction(declarator.DirectDeclarator) || isTypedef(specifiers) {
			continue
		}
		prototype, err := convertPrototype(specifiers, declarator)
		if err != nil {
			position := declarator.Position()
			return nil, fmt.Errorf("%v:%v:%v: error: %w", position.Filename, position.Line, position.Column, err)
		}
		prototypes = append(prototypes, prototype)
	}
	sort.Slice(prototypes, func(i, j int) bool {
		return prototypes[i].Position < prototypes[j].Position
	})
	return prototypes, nil
}

func isFunction(directDeclarator *cc.DirectDeclarator) bool {
	return directDeclarator != nil && (directDeclarator.Case == cc.DirectDeclaratorFuncParam ||
		directDeclarator.Case == cc.DirectDeclaratorFuncIdent)
}

func isTypedef(specifiers *cc.DeclarationSpecifiers) bool {
	for ; specifiers != nil; specifiers = specifiers.DeclarationSpecifiers {
		if specifiers.Case == cc.DeclarationSpecifiersStorage &&
			specifiers.StorageClassSpecifier.Case == cc.StorageClassSpecifierTypedef {
			return true
		}
	}
	return false
}

// typeName joins the type specifiers of a declaration, skipping qualifiers,
// storage classes and function specifiers.
func typeName(specifiers *cc.DeclarationSpecifiers) string {
	var names []string
	for ; specifiers != nil; specifiers = specifiers.DeclarationSpecifiers {
		if specifiers.Case == cc.DeclarationSpecifiersTypeSpec {
			names = append(names, specifiers.TypeSpecifier.Token.SrcStr())
		}
	}
	return strings.Join(names, " ")
}

// classify maps a C type to the register class it is passed in.
func classify(name string, pointer bool) (cb.Type, error) {
	if pointer {
		return cb.Int, nil
	}
	switch name {
	case "double", "float":
		return cb.Float, nil
	case "long double":
		return 0, fmt.Errorf("unsupported type: %v", name)
	}
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return 0, fmt.Errorf("missing type")
	}
	for _, field := range fields {
		if !integerTypes[field] {
			return 0, fmt.Errorf("unsupported type: %v", name)
		}
	}
	return cb.Int, nil
}

func convertPrototype(specifiers *cc.DeclarationSpecifiers, declarator *cc.Declarator) (Prototype, error) {
	directDeclarator := declarator.DirectDeclarator
	prototype := Prototype{
		Name:     directDeclarator.DirectDeclarator.Token.SrcStr(),
		Position: directDeclarator.Position().Line,
	}
	if returnType := typeName(specifiers); returnType != "void" || declarator.Pointer != nil {
		t, err := classify(returnType, declarator.Pointer != nil)
		if err != nil {
			return Prototype{}, fmt.Errorf("%v: result: %w", prototype.Name, err)
		}
		prototype.Result = true
		prototype.ResultType = t
	}

	parameterTypeList := directDeclarator.ParameterTypeList
	if parameterTypeList == nil {
		// f()
		return prototype, nil
	}
	if parameterTypeList.Case == cc.ParameterTypeListVar {
		return Prototype{}, fmt.Errorf("%v: %w", prototype.Name, errVariadic)
	}
	for params := parameterTypeList.ParameterList; params != nil; params = params.ParameterList {
		declaration := params.ParameterDeclaration
		name, pointer := "", false
		switch declaration.Case {
		case cc.ParameterDeclarationDecl:
			name = declaration.Declarator.DirectDeclarator.Token.SrcStr()
			pointer = declaration.Declarator.Pointer != nil
		case cc.ParameterDeclarationAbstract:
			pointer = declaration.AbstractDeclarator != nil && declaration.AbstractDeclarator.Pointer != nil
		}
		paramType := typeName(declaration.DeclarationSpecifiers)
		if paramType == "void" && !pointer {
			// f(void)
			continue
		}
		t, err := classify(paramType, pointer)
		if err != nil {
			return Prototype{}, fmt.Errorf("%v: parameter %d: %w", prototype.Name, len(prototype.Types), err)
		}
		if name == "" {
			name = fmt.Sprintf("arg%d", len(prototype.Types))
		}
		prototype.Params = append(prototype.Params, name)
		prototype.Types = append(prototype.Types, t)
	}
	return prototype, nil
}
