/*
NaiveSystems TestLab - A tool for test suite and security analysis
Copyright (C) 2023  Naive Systems Ltd.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var languageMap = map[string]language.Tag{"en": language.English, "zh": language.Chinese}

func GetPrinter(lang string) *message.Printer {
	var langTag language.Tag
	if _, exist := languageMap[lang]; exist {
		langTag = languageMap[lang]
	} else {
		langTag = languageMap["en"]
	}
	return message.NewPrinter(langTag)
}
