//
// Copyright 2023 Bytedance Ltd. and/or its affiliates
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package giftcoupon

// DefaultCatalogue seed 时写入的固定 coupon 列表，顺序即存储中的行顺序
var DefaultCatalogue = []*Coupon{
	{ID: "massatge-relaxant", Name: "Massatge relaxant", Description: "Sessió de massatge de 45 minuts amb música suau."},
	{ID: "sopar-especial", Name: "Sopar especial", Description: "Sopar al teu restaurant preferit (tu tries el lloc)."},
	{ID: "esmorzar-al-llit", Name: "Esmorzar al llit", Description: "Esmorzar casolà amb cafè/te i fruita."},
	{ID: "picnic-sorpresa", Name: "Pícnic sorpresa", Description: "Manta, snacks i passeig amb fotos boniques."},
	{ID: "nit-sushi-vi", Name: "Nit de sushi i vi", Description: "Sushi variat i copa de vi, estil chill."},
	{ID: "sortida-del-sol", Name: "Sortida del sol", Description: "Matinar per veure la sortida del sol junts."},
	{ID: "escapada-espontania", Name: "Escapada espontània", Description: "Mini-escapada d'un dia, destí sorpresa."},
	{ID: "dia-improvisacio", Name: "Dia d'improvisació", Description: "Sense plans, només improvisar i gaudir."},
	{ID: "tarda-platja-muntanya", Name: "Tarda de platja o muntanya", Description: "Passeig, bany o ruta senzilla."},
	{ID: "sessio-jocs", Name: "Sessió de jocs", Description: "Jocs de taula o videojocs cooperatius."},
}

// freshCatalogue 拷贝一份未兑换状态的 coupon 列表，避免修改全局变量
func freshCatalogue(src []*Coupon) []*Coupon {
	out := make([]*Coupon, len(src))
	for i, c := range src {
		out[i] = &Coupon{ID: c.ID, Name: c.Name, Description: c.Description}
	}
	return out
}
