package verifactu

import (
	"fmt"
	"strings"
)

const dniLetters = "TRWAGMYFPDXBNJZSQVHLCKE"

// letras de control de CIF (posición = dígito de control).
const cifControlLetters = "JABCDEFGHI"

// ValidateNIF valida el dígito o letra de control de un NIF español:
// DNI (12345678Z), NIE (X1234567L) o NIF de entidad (B12345674).
func ValidateNIF(nif string) error {
	n := NormalizeNIF(nif)
	if len(n) != 9 {
		return fmt.Errorf("verifactu: NIF debe tener 9 caracteres, se recibieron %d", len(n))
	}
	switch first := n[0]; {
	case first >= '0' && first <= '9':
		return checkDNI(n)
	case first == 'X' || first == 'Y' || first == 'Z':
		return checkDNI(string(rune('0'+strings.IndexByte("XYZ", first))) + n[1:])
	case strings.IndexByte("ABCDEFGHJNPQRSUVW", first) >= 0:
		return checkCIF(n)
	default:
		return fmt.Errorf("verifactu: NIF con prefijo %q no reconocido", first)
	}
}

// NormalizeNIF quita espacios, guiones y puntos y pasa a mayúsculas.
func NormalizeNIF(nif string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(nif) {
		if r == ' ' || r == '-' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func checkDNI(n string) error {
	var num int
	for _, r := range n[:8] {
		if r < '0' || r > '9' {
			return fmt.Errorf("verifactu: DNI/NIE con caracteres no numéricos")
		}
		num = num*10 + int(r-'0')
	}
	expected := dniLetters[num%23]
	if n[8] != expected {
		return fmt.Errorf("verifactu: letra de control inválida: esperada %c, recibida %c", expected, n[8])
	}
	return nil
}

func checkCIF(n string) error {
	digits := n[1:8]
	var sum int
	for i, r := range digits {
		if r < '0' || r > '9' {
			return fmt.Errorf("verifactu: NIF de entidad con caracteres no numéricos")
		}
		d := int(r - '0')
		if i%2 == 0 {
			d *= 2
			d = d/10 + d%10
		}
		sum += d
	}
	control := (10 - sum%10) % 10
	got := n[8]
	digit := byte('0' + control)
	letter := cifControlLetters[control]

	switch {
	case strings.IndexByte("PQRSNW", n[0]) >= 0:
		if got != letter {
			return fmt.Errorf("verifactu: control de NIF inválido: esperado %c, recibido %c", letter, got)
		}
	case strings.IndexByte("ABEH", n[0]) >= 0:
		if got != digit {
			return fmt.Errorf("verifactu: control de NIF inválido: esperado %c, recibido %c", digit, got)
		}
	default:
		if got != digit && got != letter {
			return fmt.Errorf("verifactu: control de NIF inválido: esperado %c o %c, recibido %c", digit, letter, got)
		}
	}
	return nil
}
